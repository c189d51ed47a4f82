package trustservice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/starford/nbtrust/internal/apperr"
	"github.com/starford/nbtrust/internal/nbformat"
	"github.com/starford/nbtrust/internal/notary"
	"github.com/starford/nbtrust/internal/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishTrustEvent(kind, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, kind+":"+path)
}

func newService(t *testing.T) (*Service, string, *recordingPublisher) {
	t.Helper()
	dir, store := testutil.TestWorkspace(t)
	n, err := notary.New(testutil.TestDB(t), testutil.Secret)
	if err != nil {
		t.Fatal(err)
	}
	pub := &recordingPublisher{}
	return NewService(n, store, WithPublisher(pub), WithWorkers(2)), dir, pub
}

func TestLoad(t *testing.T) {
	svc, dir, _ := newService(t)
	testutil.WriteNotebook(t, dir, "a.ipynb", testutil.V4Notebook)

	cases := []struct {
		name string
		in   Input
		want error
	}{
		{"path", Input{Path: "a.ipynb"}, nil},
		{"inline", Input{Notebook: json.RawMessage(testutil.V3Notebook)}, nil},
		{"both", Input{Path: "a.ipynb", Notebook: json.RawMessage(testutil.V4Notebook)}, apperr.ErrInvalidInput},
		{"neither", Input{}, apperr.ErrInvalidInput},
		{"missing", Input{Path: "missing.ipynb"}, apperr.ErrNotFound},
		{"invalid inline", Input{Notebook: json.RawMessage(`{"cells": []}`)}, apperr.ErrInvalidNotebook},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nb, err := svc.Load(tc.in)
			if tc.want == nil {
				if err != nil || nb == nil {
					t.Fatalf("Load = %v, %v", nb, err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLoad_NoWorkspace(t *testing.T) {
	n, _ := notary.New(testutil.TestDB(t), testutil.Secret)
	svc := NewService(n, nil)
	if _, err := svc.Load(Input{Path: "a.ipynb"}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
	st, err := svc.Status(context.Background(), "")
	if err != nil || len(st.Files) != 0 {
		t.Errorf("Status = %+v, %v", st, err)
	}
}

func TestSignCheckUnsign(t *testing.T) {
	ctx := context.Background()
	svc, dir, pub := newService(t)
	testutil.WriteNotebook(t, dir, "a.ipynb", testutil.V4Notebook)
	in := Input{Path: "a.ipynb"}

	out, err := svc.Sign(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Trusted || out.AlreadySigned || out.Path != "a.ipynb" || out.Algorithm != "sha256" {
		t.Errorf("sign = %+v", out)
	}

	out, err = svc.Check(ctx, Input{Notebook: json.RawMessage(testutil.V4Notebook)}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Trusted || out.Notebook != nil {
		t.Errorf("check = %+v", out)
	}

	if _, err := svc.Unsign(ctx, in); err != nil {
		t.Fatal(err)
	}
	out, _ = svc.Check(ctx, in, false)
	if out.Trusted {
		t.Error("trusted after unsign")
	}

	want := []string{"signed:a.ipynb", "unsigned:a.ipynb"}
	if len(pub.events) != len(want) || pub.events[0] != want[0] || pub.events[1] != want[1] {
		t.Errorf("events = %v, want %v", pub.events, want)
	}
}

func TestInlineSign_NotPublished(t *testing.T) {
	svc, _, pub := newService(t)
	if _, err := svc.Sign(context.Background(), Input{Notebook: json.RawMessage(testutil.V4Notebook)}); err != nil {
		t.Fatal(err)
	}
	if len(pub.events) != 0 {
		t.Errorf("inline notebooks have no path to report: %v", pub.events)
	}
}

func TestCheck_Mark(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	inline := Input{Notebook: json.RawMessage(testutil.V4Notebook)}

	out, err := svc.Check(ctx, inline, true)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(out.Notebook)
	ok, err := svc.CheckCells(ctx, Input{Notebook: raw})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("untrusted notebook's cells marked trusted")
	}

	_, _ = svc.Sign(ctx, inline)
	out, _ = svc.Check(ctx, inline, true)
	nb, err := nbformat.New(out.Notebook)
	if err != nil {
		t.Fatal(err)
	}
	if !svc.Notary().CheckCells(nb) {
		t.Error("signed notebook's cells not marked trusted")
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	svc, dir, _ := newService(t)
	testutil.WriteNotebook(t, dir, "a.ipynb", testutil.V4Notebook)
	testutil.WriteNotebook(t, dir, "b/c.ipynb", testutil.V3Notebook)
	_, _ = svc.Sign(ctx, Input{Path: "a.ipynb"})

	st, err := svc.Status(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if st.Trusted != 1 || st.Untrusted != 1 || len(st.Files) != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestMark_RewritesFile(t *testing.T) {
	ctx := context.Background()
	svc, dir, pub := newService(t)
	testutil.WriteNotebook(t, dir, "a.ipynb", testutil.V4Notebook)
	in := Input{Path: "a.ipynb"}

	out, err := svc.Mark(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if out.Trusted || out.Notebook == nil {
		t.Fatalf("mark unsigned = %+v", out)
	}
	if ok, _ := svc.CheckCells(ctx, in); ok {
		t.Error("unsigned notebook's cells stored as trusted")
	}

	_, _ = svc.Sign(ctx, in)
	out, err = svc.Mark(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Trusted {
		t.Fatalf("mark signed = %+v", out)
	}
	if ok, _ := svc.CheckCells(ctx, in); !ok {
		t.Error("signed notebook's cells not stored as trusted")
	}
	// The stamps are transient, so the rewritten file still checks.
	if chk, _ := svc.Check(ctx, in, false); !chk.Trusted {
		t.Error("rewritten file lost its signature")
	}

	want := []string{"untrusted:a.ipynb", "signed:a.ipynb", "trusted:a.ipynb"}
	if len(pub.events) != len(want) {
		t.Fatalf("events = %v, want %v", pub.events, want)
	}
	for i := range want {
		if pub.events[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, pub.events[i], want[i])
		}
	}
}

func TestMark_InlineLeavesWorkspace(t *testing.T) {
	svc, _, pub := newService(t)
	out, err := svc.Mark(context.Background(), Input{Notebook: json.RawMessage(testutil.V3Notebook)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Notebook == nil || out.Path != "" {
		t.Errorf("mark inline = %+v", out)
	}
	if len(pub.events) != 0 {
		t.Errorf("events = %v", pub.events)
	}
}

func TestSignIfCellsTrusted(t *testing.T) {
	ctx := context.Background()
	svc, dir, pub := newService(t)
	testutil.WriteNotebook(t, dir, "a.ipynb", testutil.V4Notebook)
	in := Input{Path: "a.ipynb"}

	out, err := svc.SignIfCellsTrusted(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if out.Trusted || out.Signature == "" {
		t.Fatalf("unmarked = %+v", out)
	}
	if chk, _ := svc.Check(ctx, in, false); chk.Trusted {
		t.Fatal("notebook with unmarked output was signed")
	}

	// Stamp the file trusted without signing, as a trusted session would.
	nb, _ := svc.Load(in)
	svc.Notary().MarkCells(nb, true)
	raw, _ := nb.Bytes()
	testutil.WriteNotebook(t, dir, "a.ipynb", string(raw))

	out, err = svc.SignIfCellsTrusted(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Trusted {
		t.Fatalf("marked = %+v", out)
	}
	if len(pub.events) != 1 || pub.events[0] != "signed:a.ipynb" {
		t.Errorf("events = %v", pub.events)
	}
}
