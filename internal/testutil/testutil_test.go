package testutil

import (
	"fmt"
	"math"
	"net/http"
	"testing"
)

type pingBody struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// recordingTB captures Errorf calls instead of failing the test.
type recordingTB struct {
	testing.TB
	errors []string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestAssertStatusCode_FailurePath(t *testing.T) {
	rec := &recordingTB{TB: t}
	AssertStatusCode(rec, http.StatusOK, http.StatusBadRequest)
	if len(rec.errors) != 1 || rec.errors[0] != "status code = 200, want 400" {
		t.Fatalf("errors = %q", rec.errors)
	}

	rec.errors = nil
	AssertStatusCode(rec, http.StatusOK, http.StatusOK)
	if len(rec.errors) != 0 {
		t.Fatalf("matching status reported %q", rec.errors)
	}
}

func TestServeAndDecode(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"method":"` + r.Method + `","path":"` + r.URL.Path + `"}`))
	})
	rec := Serve(h, http.MethodPut, "/api/lock?x=1", nil)
	AssertStatusCode(t, rec.Code, http.StatusAccepted)
	got := DecodeJSON[pingBody](t, rec)
	if got != (pingBody{Method: http.MethodPut, Path: "/api/lock"}) {
		t.Errorf("body = %+v", got)
	}
}

func TestCalibrationSetIsValid(t *testing.T) {
	set := CalibrationSet()
	if err := set.Validate(); err != nil {
		t.Fatalf("fixture does not validate: %v", err)
	}
	if got := len(set.Illuminants); got != 3 {
		t.Fatalf("illuminants = %d, want 3", got)
	}
	for i, name := range []string{"A", "D65", "F2_CWF"} {
		if set.IndexOf(name) != i {
			t.Errorf("IndexOf(%q) = %d, want %d", name, set.IndexOf(name), i)
		}
	}
}

func TestCenterLinePassesThroughAnchors(t *testing.T) {
	cl := CenterLine()
	if n := math.Hypot(cl.NormalRg, cl.NormalBg); math.Abs(n-1) > 1e-12 {
		t.Errorf("normal length = %v, want 1", n)
	}
	for _, i := range []int{IdxA, IdxD65} {
		g := IlluminantGains(i)
		s := cl.NormalRg*g.Red + cl.NormalBg*g.Blue - cl.Distance
		if math.Abs(s) > 1e-12 {
			t.Errorf("illuminant %d distance from centre line = %v", i, s)
		}
	}
}

func TestResponseIsNormalised(t *testing.T) {
	for i := range fixtureIlluminants {
		if s := Response(IlluminantGains(i)).Sum(); math.Abs(s-1) > 1e-12 {
			t.Errorf("illuminant %d response sum = %v", i, s)
		}
	}
}

func TestRadialTable(t *testing.T) {
	tbl := RadialTable(1)
	centre := tbl.Red[(17*17)/2]
	corner := tbl.Red[0]
	if centre != 1024 {
		t.Errorf("centre = %d, want 1024", centre)
	}
	if corner != 2048 {
		t.Errorf("corner = %d, want 2048", corner)
	}
}
