package bitonic

import (
	"bytes"
	"log/slog"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
)

func TestClampThreads(t *testing.T) {
	tests := []struct {
		in          uint32
		want        uint32
		wantClamped bool
	}{
		{2, 2, false},
		{64, 64, false},
		{256, 256, false},
		{0, DefaultThreads, true},
		{7, DefaultThreads, true},
		{258, DefaultThreads, true},
		{1024, DefaultThreads, true},
	}
	for _, tt := range tests {
		got, clamped := ClampThreads(tt.in)
		if got != tt.want || clamped != tt.wantClamped {
			t.Errorf("ClampThreads(%d) = (%d, %v), want (%d, %v)", tt.in, got, clamped, tt.want, tt.wantClamped)
		}
	}
}

func TestKernelSourceSubstitution(t *testing.T) {
	src := KernelSource(64)
	if !strings.Contains(src, "@workgroup_size(64, 1, 1)") {
		t.Error("kernel does not declare @workgroup_size(64, 1, 1)")
	}
	if !strings.Contains(src, "array<u32, 128>") {
		t.Error("kernel scratch array is not sized 2*threads")
	}
	if strings.Contains(src, "{{") {
		t.Error("kernel contains unexpanded template actions")
	}
}

func TestKernelSourceClampLogsWarning(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))

	src := KernelSource(33)
	if !strings.Contains(src, "@workgroup_size(256, 1, 1)") {
		t.Error("odd thread count was not clamped to 256")
	}
	if !strings.Contains(buf.String(), "invalid workgroup size") {
		t.Errorf("expected clamp warning, got: %s", buf.String())
	}
}

// The generated kernel must parse and lower with naga for every size the
// sequencer can request.
func TestKernelSourceCompiles(t *testing.T) {
	for _, threads := range []uint32{2, 4, 16, 128, 256} {
		src := KernelSource(threads)

		ast, err := naga.Parse(src)
		if err != nil {
			t.Fatalf("threads=%d: parse: %v", threads, err)
		}
		module, err := naga.LowerWithSource(ast, src)
		if err != nil {
			t.Fatalf("threads=%d: lower: %v", threads, err)
		}

		i := slices.IndexFunc(module.EntryPoints, func(ep ir.EntryPoint) bool {
			return ep.Name == KernelEntryPoint
		})
		if i < 0 {
			t.Fatalf("threads=%d: entry point %q not found", threads, KernelEntryPoint)
		}
		ep := module.EntryPoints[i]
		if ep.Stage != ir.StageCompute {
			t.Errorf("threads=%d: stage = %v, want compute", threads, ep.Stage)
		}
		if ep.Workgroup != [3]uint32{threads, 1, 1} {
			t.Errorf("threads=%d: workgroup = %v", threads, ep.Workgroup)
		}
	}
}

func TestDisplayShaderCompiles(t *testing.T) {
	src := DisplayShaderSource()
	ast, err := naga.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	module, err := naga.LowerWithSource(ast, src)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}

	stages := map[string]ir.ShaderStage{}
	for _, ep := range module.EntryPoints {
		stages[ep.Name] = ep.Stage
	}
	if s, ok := stages["vs_main"]; !ok || s != ir.StageVertex {
		t.Errorf("vs_main missing or wrong stage: %v", stages)
	}
	if s, ok := stages["fs_main"]; !ok || s != ir.StageFragment {
		t.Errorf("fs_main missing or wrong stage: %v", stages)
	}
}

func TestUniformsBytes(t *testing.T) {
	u := NewUniforms(Grid{Width: 4, Height: 8}, Stage{AlgoDisperseLocal, 16})
	b := u.Bytes()
	if len(b) != UniformsSize {
		t.Fatalf("len = %d, want %d", len(b), UniformsSize)
	}

	want := EncodeElements([]uint32{math.Float32bits(4), math.Float32bits(8), 2, 16})
	if !bytes.Equal(b, want) {
		t.Errorf("Bytes() = %v, want %v", b, want)
	}
}

func TestDisplayUniformsBytes(t *testing.T) {
	u := DisplayUniforms{Width: 2, Height: 2, HoverX: 0.5, HoverY: 1.5, SwapX: -1, SwapY: -1}
	b := u.Bytes()
	if len(b) != DisplayUniformsSize {
		t.Fatalf("len = %d, want %d", len(b), DisplayUniformsSize)
	}
	vals := DecodeElements(b, 8)
	if math.Float32frombits(vals[3]) != 1.5 || math.Float32frombits(vals[4]) != -1 {
		t.Errorf("unexpected encoding: %v", vals)
	}
	if vals[6] != 0 || vals[7] != 0 {
		t.Error("padding is not zero")
	}
}

func TestDecodeElements(t *testing.T) {
	in := []uint32{0, 1, 0xdeadbeef, 7}
	if got := DecodeElements(EncodeElements(in), len(in)); !slices.Equal(got, in) {
		t.Errorf("DecodeElements = %v, want %v", got, in)
	}
}
