package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/darnellt0/family-archive-vault/internal/repository"
)

type stubAssetRepo struct {
	bySHA   map[string]*repository.AssetRecord
	phashes []repository.PHashEntry
	listErr error
}

func (r *stubAssetRepo) InsertIfAbsent(context.Context, *repository.AssetRecord) (bool, error) {
	return false, errors.New("not implemented")
}

func (r *stubAssetRepo) Update(context.Context, *repository.AssetRecord) error {
	return errors.New("not implemented")
}

func (r *stubAssetRepo) GetByOriginFileID(context.Context, string) (*repository.AssetRecord, error) {
	return nil, repository.ErrNotFound
}

func (r *stubAssetRepo) FindBySHA256(_ context.Context, sha, excludeAssetID string) (*repository.AssetRecord, error) {
	if rec, ok := r.bySHA[sha]; ok && rec.AssetID != excludeAssetID {
		return rec, nil
	}
	return nil, repository.ErrNotFound
}

func (r *stubAssetRepo) ListPHashes(_ context.Context, excludeAssetID string) ([]repository.PHashEntry, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var entries []repository.PHashEntry
	for _, entry := range r.phashes {
		if entry.AssetID != excludeAssetID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (r *stubAssetRepo) CountByStatus(context.Context, repository.AssetStatus) (int, error) {
	return 0, nil
}

func (r *stubAssetRepo) InsertDuplicateLink(context.Context, string, string, string) error {
	return nil
}

func strp(s string) *string { return &s }

func TestResolveExactMatch(t *testing.T) {
	repo := &stubAssetRepo{
		bySHA: map[string]*repository.AssetRecord{
			"deadbeef": {AssetID: "asset-1"},
		},
	}
	resolver := NewResolver(repo, 6)

	match, err := resolver.Resolve(context.Background(), "asset-incoming", "deadbeef", strp("0000000000000000"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match.AssetID != "asset-1" || match.Method != MethodExact {
		t.Errorf("expected exact match on asset-1, got %+v", match)
	}
}

func TestResolveExcludesOwnRecord(t *testing.T) {
	// 重试场景：待判定资产的指纹此前已经入库。
	// 自身档案不能算命中，更早的近似重复仍要被找到。
	repo := &stubAssetRepo{
		bySHA: map[string]*repository.AssetRecord{
			"cafebabe": {AssetID: "asset-self"},
		},
		phashes: []repository.PHashEntry{
			{AssetID: "asset-earlier", PHash: "0000000000000003"},
			{AssetID: "asset-self", PHash: "0000000000000000"},
		},
	}
	resolver := NewResolver(repo, 6)

	match, err := resolver.Resolve(context.Background(), "asset-self", "cafebabe", strp("0000000000000000"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match.AssetID != "asset-earlier" || match.Method != MethodNear {
		t.Errorf("expected near match on the earlier asset, got %+v", match)
	}
}

func TestResolveNearMatchThreshold(t *testing.T) {
	// 与全零哈希相距恰好 6 比特和 7 比特的两个候选
	atThreshold := "000000000000003f"  // 6 bits set
	overThreshold := "000000000000007f" // 7 bits set

	cases := []struct {
		name      string
		candidate string
		wantHit   bool
	}{
		{"distance at threshold matches", atThreshold, true},
		{"distance over threshold does not", overThreshold, false},
	}

	for _, tc := range cases {
		repo := &stubAssetRepo{
			phashes: []repository.PHashEntry{{AssetID: "asset-near", PHash: tc.candidate}},
		}
		resolver := NewResolver(repo, 6)

		match, err := resolver.Resolve(context.Background(), "asset-incoming", "nosuchsha", strp("0000000000000000"))
		if err != nil {
			t.Fatalf("%s: resolve: %v", tc.name, err)
		}
		if tc.wantHit && (match.AssetID != "asset-near" || match.Method != MethodNear) {
			t.Errorf("%s: expected near match, got %+v", tc.name, match)
		}
		if !tc.wantHit && match.AssetID != "" {
			t.Errorf("%s: expected no match, got %+v", tc.name, match)
		}
	}
}

func TestResolveFirstHitInScanOrderWins(t *testing.T) {
	repo := &stubAssetRepo{
		phashes: []repository.PHashEntry{
			{AssetID: "asset-old", PHash: "0000000000000001"},
			{AssetID: "asset-new", PHash: "0000000000000000"},
		},
	}
	resolver := NewResolver(repo, 6)

	match, err := resolver.Resolve(context.Background(), "asset-incoming", "nosuchsha", strp("0000000000000000"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match.AssetID != "asset-old" {
		t.Errorf("expected first candidate in scan order, got %s", match.AssetID)
	}
}

func TestResolveSkipsNearMatchWithoutPHash(t *testing.T) {
	repo := &stubAssetRepo{
		phashes: []repository.PHashEntry{{AssetID: "asset-near", PHash: "0000000000000000"}},
	}
	resolver := NewResolver(repo, 6)

	match, err := resolver.Resolve(context.Background(), "asset-incoming", "nosuchsha", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match.AssetID != "" {
		t.Errorf("expected no match without a phash, got %+v", match)
	}
}

func TestResolveToleratesDirtyEntries(t *testing.T) {
	repo := &stubAssetRepo{
		phashes: []repository.PHashEntry{
			{AssetID: "asset-dirty", PHash: "not-hex"},
			{AssetID: "asset-good", PHash: "0000000000000000"},
		},
	}
	resolver := NewResolver(repo, 6)

	match, err := resolver.Resolve(context.Background(), "asset-incoming", "nosuchsha", strp("0000000000000000"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match.AssetID != "asset-good" {
		t.Errorf("expected dirty entry skipped, got %+v", match)
	}
}

func TestHammingDistance(t *testing.T) {
	cases := []struct {
		a, b uint64
		want int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0, 0x3f, 6},
		{0xffffffffffffffff, 0, 64},
		{0b1010, 0b0101, 4},
	}
	for _, tc := range cases {
		if got := HammingDistance(tc.a, tc.b); got != tc.want {
			t.Errorf("HammingDistance(%x, %x): got %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
