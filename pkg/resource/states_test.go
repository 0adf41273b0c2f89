package resource

import (
	"context"
	"testing"

	"github.com/openfroyo/converge/pkg/facts"
)

func TestChecksum_BaselineDriftAndUnchanged(t *testing.T) {
	algorithms := []string{
		AlgorithmMD5, AlgorithmMD5Lite, AlgorithmSHA256, AlgorithmBLAKE3,
		AlgorithmMTime, AlgorithmTimestamp, AlgorithmCTime,
	}

	for _, algo := range algorithms {
		t.Run(algo, func(t *testing.T) {
			f := newFixture(t)
			f.fs.AddFile("/srv/data", []byte("v1"), 0, 0, 0o644)
			params := Params{ParamPath: "/srv/data", AttrChecksum: algo}

			// First observation records a baseline without an event.
			out, err := f.mustNew(t, f.nextRun(), params).Evaluate(context.Background())
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if len(out.Events()) != 0 {
				t.Errorf("Expected no events for the baseline, got %v", eventList(out))
			}
			sums, err := f.store.GetChecksums(context.Background(), "/srv/data")
			if err != nil {
				t.Fatalf("Expected a baseline, got: %v", err)
			}
			baseline := sums[algo]
			if baseline == "" {
				t.Fatalf("Expected a %s baseline, got %v", algo, sums)
			}

			// Unchanged content stays quiet.
			out, err = f.mustNew(t, f.nextRun(), params).Evaluate(context.Background())
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if len(out.Changes) != 0 {
				t.Errorf("Expected no changes for unchanged content, got %+v", out.Changes)
			}

			// A changed file is reported once.
			if err := f.fs.WriteContent("/srv/data", []byte("v2")); err != nil {
				t.Fatal(err)
			}
			out, err = f.mustNew(t, f.nextRun(), params).Evaluate(context.Background())
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got := eventList(out); !sameEvents(got, []Event{EventFileModified}) {
				t.Errorf("Expected file_modified, got %v", got)
			}
			sums, _ = f.store.GetChecksums(context.Background(), "/srv/data")
			if sums[algo] == baseline {
				t.Errorf("Expected the recorded %s to be replaced", algo)
			}

			out, err = f.mustNew(t, f.nextRun(), params).Evaluate(context.Background())
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if len(out.Changes) != 0 {
				t.Errorf("Expected no changes after recording, got %+v", out.Changes)
			}

			if f.fs.Mutations() != 0 {
				t.Errorf("Expected checksums to never mutate the file, got %d mutations", f.fs.Mutations())
			}
		})
	}
}

func TestChecksum_DefaultsToMD5(t *testing.T) {
	f := newFixture(t)
	for _, value := range []interface{}{nil, true, ""} {
		r := f.mustNew(t, f.nextRun(), Params{ParamPath: "/srv/x", AttrChecksum: value})
		if algo := r.State(AttrChecksum).(*Checksum).Algorithm(); algo != AlgorithmMD5 {
			t.Errorf("checksum=%#v: expected md5, got %s", value, algo)
		}
	}
}

func TestChecksum_MD5LiteReadsPrefix(t *testing.T) {
	f := newFixture(t)
	prefix := make([]byte, md5liteLimit)
	for i := range prefix {
		prefix[i] = 'a'
	}
	f.fs.AddFile("/srv/big", append(append([]byte(nil), prefix...), []byte("tail-1")...), 0, 0, 0o644)
	params := Params{ParamPath: "/srv/big", AttrChecksum: AlgorithmMD5Lite}

	if _, err := f.mustNew(t, f.nextRun(), params).Evaluate(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Changes past the prefix are not seen by md5lite.
	if err := f.fs.WriteContent("/srv/big", append(append([]byte(nil), prefix...), []byte("tail-2")...)); err != nil {
		t.Fatal(err)
	}
	out, err := f.mustNew(t, f.nextRun(), params).Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(out.Events()) != 0 {
		t.Errorf("Expected no events, got %v", eventList(out))
	}
}

func TestChecksum_UnreadableValueIsInSync(t *testing.T) {
	f := newFixture(t)
	f.fs.AddDir("/srv/dir", 0, 0, 0o755)

	r := f.mustNew(t, f.env, Params{ParamPath: "/srv/dir", AttrChecksum: "md5"})
	out, err := r.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(out.Changes) != 0 {
		t.Errorf("Expected no changes, got %+v", out.Changes)
	}
	if r.State(AttrChecksum).Is() != Unknown {
		t.Errorf("Expected an unknown checksum, got %v", r.State(AttrChecksum).Is())
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		value   interface{}
		want    int
		wantErr bool
	}{
		{"644", 0o644, false},
		{"0644", 0o644, false},
		{" 755 ", 0o755, false},
		{"4755", 0o4755, false},
		{0o644, 0o644, false},
		{int64(0o600), 0o600, false},
		{"0o640", 0o640, false},
		{"0O4755", 0o4755, false},
		{"", 0, true},
		{"   ", 0, true},
		{"0o", 0, true},
		{"999", 0, true},
		{"abc", 0, true},
		{"17777", 0, true},
		{-1, 0, true},
		{3.5, 0, true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.value)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%#v): expected an error, got %o", tt.value, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%#v): expected no error, got: %v", tt.value, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%#v) = %o, want %o", tt.value, got, tt.want)
		}
	}
}

func TestMode_StringAndIntegerAgree(t *testing.T) {
	f := newFixture(t)
	fromString := f.mustNew(t, f.nextRun(), Params{ParamPath: "/srv/x", AttrMode: "644"})
	fromInt := f.mustNew(t, f.nextRun(), Params{ParamPath: "/srv/x", AttrMode: 0o644})

	if fromString.State(AttrMode).Should() != fromInt.State(AttrMode).Should() {
		t.Errorf("Expected equal modes, got %v and %v",
			fromString.State(AttrMode).Should(), fromInt.State(AttrMode).Should())
	}
}

func TestSetUID_OnlyTouchesItsBit(t *testing.T) {
	tests := []struct {
		name     string
		initial  uint32
		params   Params
		wantMode uint32
		events   []Event
	}{
		{
			name:     "set without mode",
			initial:  0o755,
			params:   Params{AttrSetUID: true},
			wantMode: 0o4755,
			events:   []Event{EventInodeChanged},
		},
		{
			name:     "clear without mode",
			initial:  0o4755,
			params:   Params{AttrSetUID: false},
			wantMode: 0o755,
			events:   []Event{EventInodeChanged},
		},
		{
			name:     "set with mode",
			initial:  0o600,
			params:   Params{AttrSetUID: true, AttrMode: "644"},
			wantMode: 0o4644,
			events:   []Event{EventInodeChanged},
		},
		{
			name:     "clear with mode that sets it",
			initial:  0o755,
			params:   Params{AttrSetUID: "no", AttrMode: "4755"},
			wantMode: 0o755,
			events:   nil,
		},
		{
			name:     "already set",
			initial:  0o4750,
			params:   Params{AttrSetUID: true},
			wantMode: 0o4750,
			events:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fs.AddFile("/srv/bin", nil, 0, 0, tt.initial)

			params := tt.params.Clone()
			params[ParamPath] = "/srv/bin"
			r := f.mustNew(t, f.env, params)

			out, err := r.Evaluate(context.Background())
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got := eventList(out); !sameEvents(got, tt.events) {
				t.Errorf("Expected events %v, got %v", tt.events, got)
			}
			if mode := f.stat(t, "/srv/bin").Mode; mode != tt.wantMode {
				t.Errorf("Expected mode %04o, got %04o", tt.wantMode, mode)
			}
			if want := len(tt.events); f.fs.Mutations() != want {
				t.Errorf("Expected %d mutations, got %d", want, f.fs.Mutations())
			}
		})
	}
}

func TestPermissions_SetBit(t *testing.T) {
	p := &Permissions{should: Unknown, is: 0o750}

	p.SetBit(SetUIDBit, true)
	if p.Tracked() != 0o4750 {
		t.Errorf("Expected 04750, got %04o", p.Tracked())
	}
	if !p.Bit(SetUIDBit) {
		t.Error("Expected bit 11 to be set")
	}

	p.SetBit(SetUIDBit, false)
	if p.Tracked() != 0o750 {
		t.Errorf("Expected 0750, got %04o", p.Tracked())
	}
	if p.Bit(SetUIDBit) {
		t.Error("Expected bit 11 to be clear")
	}
}

func TestSetUID_Compare(t *testing.T) {
	f := newFixture(t)
	f.fs.AddFile("/srv/bin", nil, 0, 0, 0o755)

	r := f.mustNew(t, f.env, Params{ParamPath: "/srv/bin", AttrSetUID: true, AttrMode: "755"})
	if err := r.Retrieve(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	sub := r.State(AttrSetUID).(*SetUID)
	if sub.Compare() != -1 {
		t.Errorf("Expected -1 for a clear live bit and a set tracked bit, got %d", sub.Compare())
	}

	if _, err := r.Evaluate(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if sub.Compare() != 0 {
		t.Errorf("Expected 0 after sync, got %d", sub.Compare())
	}

	plain := f.mustNew(t, f.nextRun(), Params{ParamPath: "/srv/bin", AttrSetUID: false, AttrMode: "755"})
	if err := plain.Retrieve(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if c := plain.State(AttrSetUID).(*SetUID).Compare(); c != 1 {
		t.Errorf("Expected 1 for a set live bit and a clear tracked bit, got %d", c)
	}
}

func TestGroup_ResolvesByOperatingSystem(t *testing.T) {
	tests := []struct {
		family string
		want   int
	}{
		{"Linux", 99},
		{"Darwin", 20},
	}

	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			f := newFixture(t)
			f.fs.AddFile("/srv/x", nil, 0, 0, 0o644)
			env := f.nextRun()
			env.Facts = facts.Static{facts.OperatingSystem: tt.family}

			r := f.mustNew(t, env, Params{ParamPath: "/srv/x", AttrGroup: "staff"})
			if _, err := r.Evaluate(context.Background()); err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			info := f.stat(t, "/srv/x")
			if info.GID != tt.want {
				t.Errorf("Expected gid %d, got %d", tt.want, info.GID)
			}
			if info.UID != 0 {
				t.Errorf("Expected the owner to be left alone, got uid %d", info.UID)
			}
		})
	}
}

func TestOwnership_NumericAndUnknownNames(t *testing.T) {
	f := newFixture(t)
	f.fs.AddFile("/srv/x", nil, 0, 0, 0o644)

	r := f.mustNew(t, f.env, Params{ParamPath: "/srv/x", AttrOwner: "42", AttrGroup: 7})
	if _, err := r.Evaluate(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	info := f.stat(t, "/srv/x")
	if info.UID != 42 || info.GID != 7 {
		t.Errorf("Expected 42:7, got %d:%d", info.UID, info.GID)
	}

	ghost := f.mustNew(t, f.nextRun(), Params{ParamPath: "/srv/x", AttrOwner: "ghost"})
	out, err := ghost.Evaluate(context.Background())
	if !IsResolution(err) {
		t.Fatalf("Expected a resolution error, got: %v", err)
	}
	if !out.Failed() {
		t.Error("Expected the outcome to report a failure")
	}
	if f.fs.Mutations() != 2 {
		t.Errorf("Expected no chown for an unresolved owner, got %d mutations", f.fs.Mutations())
	}
}
