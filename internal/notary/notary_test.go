package notary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/starford/nbtrust/internal/apperr"
	"github.com/starford/nbtrust/internal/nbformat"
	"github.com/starford/nbtrust/internal/signer"
	"github.com/starford/nbtrust/internal/testutil"
	"github.com/starford/nbtrust/internal/trust"
)

var quiet = slog.New(slog.NewJSONHandler(io.Discard, nil))

func testNotary(t *testing.T, opts ...Option) (*Notary, *trust.DB) {
	t.Helper()
	db := testutil.TestDB(t)
	n, err := New(db, testutil.Secret, append([]Option{WithLogger(quiet)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n, db
}

// numbered returns a distinct v4 notebook for each i.
func numbered(t *testing.T, i int) *nbformat.Notebook {
	t.Helper()
	nb := testutil.Notebook(t, testutil.V4Notebook)
	nb.Cells()[2].Raw()["source"] = fmt.Sprintf("x = %d", i)
	return nb
}

func TestNew_Validation(t *testing.T) {
	db := testutil.TestDB(t)
	if _, err := New(nil, testutil.Secret); err == nil {
		t.Error("nil cache should be rejected")
	}
	if _, err := New(db, nil); !errors.Is(err, signer.ErrEmptySecret) {
		t.Errorf("empty secret: %v", err)
	}
	if _, err := New(db, testutil.Secret, WithAlgorithm("md5")); !errors.Is(err, apperr.ErrUnknownAlgorithm) {
		t.Errorf("unknown algorithm: %v", err)
	}
	if _, err := New(db, testutil.Secret, WithCacheSize(0)); err == nil {
		t.Error("zero cache size should be rejected")
	}
	if _, err := New(db, testutil.Secret, WithCullInterval(-time.Second)); err == nil {
		t.Error("negative cull interval should be rejected")
	}
}

func TestSignThenCheck(t *testing.T) {
	ctx := context.Background()
	for _, src := range []string{testutil.V4Notebook, testutil.V3Notebook} {
		n, _ := testNotary(t)
		nb := testutil.Notebook(t, src)

		ok, err := n.CheckSignature(ctx, nb)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("unsigned notebook trusted")
		}

		res, err := n.Sign(ctx, nb)
		if err != nil {
			t.Fatal(err)
		}
		if res.AlreadySigned || !res.Trusted {
			t.Errorf("first sign = %+v", res)
		}
		if res.Algorithm != signer.SHA256 || len(res.Signature) != 64 {
			t.Errorf("signature = %s:%s", res.Algorithm, res.Signature)
		}
		if res.Digest.Validate() != nil {
			t.Errorf("digest %q is not valid", res.Digest)
		}

		ok, _ = n.CheckSignature(ctx, testutil.Notebook(t, src))
		if !ok {
			t.Error("signed notebook not trusted")
		}

		res, _ = n.Sign(ctx, nb)
		if !res.AlreadySigned {
			t.Error("second sign should report already signed")
		}
	}
}

func TestSign_DoesNotEmbedSignature(t *testing.T) {
	n, _ := testNotary(t)
	nb := testutil.Notebook(t, testutil.V4Notebook)
	before, _ := nb.Bytes()
	if _, err := n.Sign(context.Background(), nb); err != nil {
		t.Fatal(err)
	}
	after, _ := nb.Bytes()
	if string(before) != string(after) {
		t.Error("Sign must not modify the notebook")
	}
}

func TestEditInvalidatesTrust(t *testing.T) {
	ctx := context.Background()
	n, _ := testNotary(t)
	nb := testutil.Notebook(t, testutil.V4Notebook)
	_, _ = n.Sign(ctx, nb)

	nb.Cells()[1].Outputs()[0].(map[string]any)["text"] = "tampered\n"
	if ok, _ := n.CheckSignature(ctx, nb); ok {
		t.Error("edited notebook still trusted")
	}
}

func TestEmbeddedSignatureIgnored(t *testing.T) {
	ctx := context.Background()
	n, _ := testNotary(t)
	nb := testutil.Notebook(t, testutil.V4Notebook)
	sig, err := n.ComputeSignature(nb)
	if err != nil {
		t.Fatal(err)
	}
	nb.Metadata()["signature"] = "sha256:" + sig
	if ok, _ := n.CheckSignature(ctx, nb); ok {
		t.Error("an embedded signature must not confer trust")
	}

	// And it does not change what is signed.
	_, _ = n.Sign(ctx, nb)
	if ok, _ := n.CheckSignature(ctx, testutil.Notebook(t, testutil.V4Notebook)); !ok {
		t.Error("signature should not depend on metadata.signature")
	}
}

func TestPeek(t *testing.T) {
	ctx := context.Background()
	n, _ := testNotary(t)
	nb := testutil.Notebook(t, testutil.V4Notebook)

	res, err := n.Peek(ctx, nb)
	if err != nil {
		t.Fatal(err)
	}
	if res.Trusted || res.LastSeen != nil {
		t.Fatalf("unsigned peek = %+v", res)
	}

	if _, err := n.Sign(ctx, nb); err != nil {
		t.Fatal(err)
	}
	res, err = n.Peek(ctx, nb)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Trusted || res.LastSeen == nil || res.LastSeen.IsZero() {
		t.Errorf("signed peek = %+v", res)
	}
}

func TestUnsign(t *testing.T) {
	ctx := context.Background()
	n, _ := testNotary(t)
	nb := testutil.Notebook(t, testutil.V3Notebook)

	if err := n.Unsign(ctx, nb); err != nil {
		t.Fatalf("unsign of unsigned notebook: %v", err)
	}
	_, _ = n.Sign(ctx, nb)
	if err := n.Unsign(ctx, nb); err != nil {
		t.Fatal(err)
	}
	if ok, _ := n.CheckSignature(ctx, nb); ok {
		t.Error("notebook trusted after unsign")
	}
	if err := n.Unsign(ctx, nb); err != nil {
		t.Errorf("repeated unsign: %v", err)
	}
}

func TestAlgorithmIsolation(t *testing.T) {
	ctx := context.Background()
	n, _ := testNotary(t)
	nb := testutil.Notebook(t, testutil.V4Notebook)
	_, _ = n.Sign(ctx, nb)

	n512, err := n.With(WithAlgorithm(signer.SHA512))
	if err != nil {
		t.Fatal(err)
	}
	if n512.Algorithm() != signer.SHA512 {
		t.Fatalf("algorithm = %s", n512.Algorithm())
	}
	if ok, _ := n512.CheckSignature(ctx, nb); ok {
		t.Error("signature under sha256 must not be trusted under sha512")
	}
	if ok, _ := n.CheckSignature(ctx, nb); !ok {
		t.Error("original notary lost trust")
	}
}

func TestSecretIsolation(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	a, _ := New(db, []byte("one"), WithLogger(quiet))
	b, _ := New(db, []byte("two"), WithLogger(quiet))
	nb := testutil.Notebook(t, testutil.V4Notebook)

	_, _ = a.Sign(ctx, nb)
	if ok, _ := b.CheckSignature(ctx, nb); ok {
		t.Error("notebook signed with another secret must not be trusted")
	}
}

func TestCompute_Deterministic(t *testing.T) {
	n, _ := testNotary(t)
	a, err := n.Compute(testutil.Notebook(t, testutil.V4Notebook))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := n.Compute(testutil.Notebook(t, testutil.V4Notebook))
	if a.Signature != b.Signature || a.Digest != b.Digest {
		t.Error("compute is not deterministic")
	}
	c, _ := n.Compute(numbered(t, 1))
	if c.Signature == a.Signature {
		t.Error("different content produced the same signature")
	}
}

func TestSerializationErrorSurfaced(t *testing.T) {
	ctx := context.Background()
	n, _ := testNotary(t)
	nb := testutil.Notebook(t, testutil.V4Notebook)
	nb.Metadata()["bad"] = math.NaN()

	if _, err := n.Sign(ctx, nb); !errors.Is(err, apperr.ErrSerialization) {
		t.Errorf("sign: %v", err)
	}
	if _, err := n.CheckSignature(ctx, nb); !errors.Is(err, apperr.ErrSerialization) {
		t.Errorf("check: %v", err)
	}
	if n.IsTrusted(ctx, nb) {
		t.Error("IsTrusted must fail safe")
	}
}

func TestIsTrusted_StorageFailureFailsSafe(t *testing.T) {
	ctx := context.Background()
	db, err := trust.Open(trust.MemoryDSN)
	if err != nil {
		t.Fatal(err)
	}
	n, _ := New(db, testutil.Secret, WithLogger(quiet))
	nb := testutil.Notebook(t, testutil.V4Notebook)
	_, _ = n.Sign(ctx, nb)
	db.Close()

	if n.IsTrusted(ctx, nb) {
		t.Error("closed store must not report trust")
	}
	if _, err := n.CheckSignature(ctx, nb); !errors.Is(err, apperr.ErrStorage) {
		t.Errorf("check error = %v, want storage error", err)
	}
	if _, err := n.Sign(ctx, nb); err == nil {
		t.Error("sign must report a storage failure")
	}
}

func TestCullScenario(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock()
	db := testutil.TestDB(t, trust.WithClock(clock.Now))
	n, err := New(db, testutil.Secret, WithLogger(quiet), WithCacheSize(8), WithCullInterval(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	docs := make([]*nbformat.Notebook, 10)
	for i := range docs {
		docs[i] = numbered(t, i)
		if _, err := n.Sign(ctx, docs[i]); err != nil {
			t.Fatal(err)
		}
	}
	if count, _ := db.Count(); count != 10 {
		t.Fatalf("count = %d, want 10 before cull is due", count)
	}

	// Touch D0 so D1 and D2 become least recently used.
	if ok, _ := n.CheckSignature(ctx, docs[0]); !ok {
		t.Fatal("D0 not trusted")
	}

	clock.Advance(time.Hour)
	removed, err := n.MaybeCull(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if count, _ := db.Count(); count != 8 {
		t.Errorf("count = %d, want 8", count)
	}

	for i, nb := range docs {
		res, _ := n.Compute(nb)
		rec, _ := db.Get(res.Algorithm.String(), res.Signature)
		evicted := i == 1 || i == 2
		if evicted != (rec == nil) {
			t.Errorf("D%d evicted=%v, want %v", i, rec == nil, evicted)
		}
	}

	// Marker reset: nothing more is removed until the interval passes.
	removed, _ = n.MaybeCull(ctx)
	if removed != 0 {
		t.Errorf("second cull removed %d", removed)
	}
}

func TestSign_RunsDueCull(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock()
	db := testutil.TestDB(t, trust.WithClock(clock.Now))
	n, _ := New(db, testutil.Secret, WithLogger(quiet), WithCacheSize(3), WithCullInterval(time.Hour))

	for i := 0; i < 5; i++ {
		_, _ = n.Sign(ctx, numbered(t, i))
	}
	if count, _ := db.Count(); count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}

	clock.Advance(2 * time.Hour)
	_, _ = n.Sign(ctx, numbered(t, 5))
	if count, _ := db.Count(); count != 3 {
		t.Errorf("count = %d after due cull, want 3", count)
	}
	if ok, _ := n.CheckSignature(ctx, numbered(t, 5)); !ok {
		t.Error("the notebook just signed must survive the cull")
	}
}

func TestCull_Forced(t *testing.T) {
	ctx := context.Background()
	n, db := testNotary(t, WithCacheSize(2))
	for i := 0; i < 4; i++ {
		_, _ = n.Sign(ctx, numbered(t, i))
	}
	removed, err := n.Cull(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if count, _ := db.Count(); count != 2 {
		t.Errorf("count = %d", count)
	}
}
