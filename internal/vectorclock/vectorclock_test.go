/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package vectorclock

import "testing"

func TestIncRaisesOwnCounter(t *testing.T) {
	vc := New()
	vc = vc.Inc("alpha")
	vc = vc.Inc("alpha")
	if got := vc.Get("alpha"); got != 2 {
		t.Fatalf("Get(alpha) = %d, want 2", got)
	}
	if got := vc.Get("bravo"); got != 0 {
		t.Fatalf("absent entry Get(bravo) = %d, want 0", got)
	}
}

func TestIncDoesNotMutateReceiver(t *testing.T) {
	base := New().Inc("alpha")
	derived := base.Inc("alpha")
	if base.Get("alpha") == derived.Get("alpha") {
		t.Fatalf("Inc mutated the receiver: base=%v derived=%v", base, derived)
	}
}

func TestMergeTakesElementwiseMax(t *testing.T) {
	a := VectorClock{"alpha": 3, "bravo": 1}
	b := VectorClock{"alpha": 2, "bravo": 5, "charlie": 1}

	merged := a.Merge(b)
	want := VectorClock{"alpha": 3, "bravo": 5, "charlie": 1}
	if len(merged) != len(want) {
		t.Fatalf("Merge result size = %d, want %d", len(merged), len(want))
	}
	for k, v := range want {
		if merged[k] != v {
			t.Errorf("Merge()[%s] = %d, want %d", k, merged[k], v)
		}
	}
}

func TestMergeCommutativeAssociativeIdempotent(t *testing.T) {
	a := VectorClock{"alpha": 3, "bravo": 1}
	b := VectorClock{"alpha": 2, "bravo": 5, "charlie": 1}
	c := VectorClock{"delta": 7}

	ab := a.Merge(b)
	ba := b.Merge(a)
	if Compare(ab, ba) != Equal {
		t.Fatalf("Merge not commutative: a.Merge(b)=%v b.Merge(a)=%v", ab, ba)
	}

	abc1 := a.Merge(b).Merge(c)
	abc2 := a.Merge(b.Merge(c))
	if Compare(abc1, abc2) != Equal {
		t.Fatalf("Merge not associative: %v vs %v", abc1, abc2)
	}

	idem := ab.Merge(ab)
	if Compare(idem, ab) != Equal {
		t.Fatalf("Merge not idempotent: %v vs %v", idem, ab)
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b VectorClock
		want Relation
	}{
		{"both empty", New(), New(), Equal},
		{"equal with explicit zero", VectorClock{"alpha": 0}, New(), Equal},
		{"equal same entries", VectorClock{"alpha": 2, "bravo": 3}, VectorClock{"alpha": 2, "bravo": 3}, Equal},
		{"strictly before", VectorClock{"alpha": 1}, VectorClock{"alpha": 2}, Before},
		{"strictly after", VectorClock{"alpha": 2}, VectorClock{"alpha": 1}, After},
		{"before via missing key", VectorClock{"alpha": 1}, VectorClock{"alpha": 1, "bravo": 1}, Before},
		{"after via missing key", VectorClock{"alpha": 1, "bravo": 1}, VectorClock{"alpha": 1}, After},
		{"concurrent", VectorClock{"alpha": 1, "bravo": 0}, VectorClock{"alpha": 0, "bravo": 1}, Concurrent},
		{"concurrent crossing keys", VectorClock{"alpha": 2, "bravo": 1}, VectorClock{"alpha": 1, "bravo": 2}, Concurrent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Compare(tc.a, tc.b); got != tc.want {
				t.Errorf("Compare(%v, %v) = %s, want %s", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestCompareReflexiveAntisymmetric(t *testing.T) {
	pairs := []struct{ a, b VectorClock }{
		{VectorClock{"alpha": 1}, VectorClock{"alpha": 2}},
		{VectorClock{"alpha": 1, "bravo": 2}, VectorClock{"alpha": 2, "bravo": 2}},
		{VectorClock{"alpha": 1, "bravo": 1}, VectorClock{"alpha": 2, "bravo": 0}},
	}

	for _, p := range pairs {
		forward := Compare(p.a, p.b)
		backward := Compare(p.b, p.a)

		switch forward {
		case Before:
			if backward != After {
				t.Errorf("Compare(a,b)=Before but Compare(b,a)=%s, want After", backward)
			}
		case After:
			if backward != Before {
				t.Errorf("Compare(a,b)=After but Compare(b,a)=%s, want Before", backward)
			}
		case Concurrent:
			if backward != Concurrent {
				t.Errorf("Compare(a,b)=Concurrent but Compare(b,a)=%s, want Concurrent", backward)
			}
		case Equal:
			if backward != Equal {
				t.Errorf("Compare(a,b)=Equal but Compare(b,a)=%s, want Equal", backward)
			}
		}
	}
}
