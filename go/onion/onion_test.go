/*
Copyright 2024 The Monomi Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package onion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickOne(t *testing.T) {
	tcases := []struct {
		in   Onion
		want Onion
	}{{
		in:   PLAIN,
		want: PLAIN,
	}, {
		in:   DET | OPE,
		want: DET,
	}, {
		in:   PLAIN | SWP,
		want: PLAIN,
	}, {
		in:   HOM | SWP,
		want: HOM,
	}}
	for _, tc := range tcases {
		got := tc.in.PickOne()
		assert.Equal(t, tc.want, got, "PickOne(%s)", tc.in)
		assert.True(t, tc.in.Contains(got))
		assert.True(t, got.IsSingle())
	}
}

func TestPickOnePanicsOnEmpty(t *testing.T) {
	assert.Panics(t, func() { None.PickOne() })
}

func TestToSeq(t *testing.T) {
	seq := (DET | HOM | SWP).ToSeq()
	require.Equal(t, []Onion{DET, HOM, SWP}, seq)
	for _, o := range seq {
		assert.True(t, o.IsSingle())
	}
	assert.Nil(t, None.ToSeq())
}

func TestCompleteSeqWithPreference(t *testing.T) {
	seq := (OPE | SWP).CompleteSeqWithPreference()
	require.Len(t, seq, 7)
	// Preferred bits first, then the rest in declaration order.
	assert.Equal(t, []Onion{OPE, SWP}, seq[:2])
	assert.Equal(t, []Onion{PLAIN, DET, HOM, HOMRowDesc, HOMAgg}, seq[2:])
	seen := make(map[Onion]bool)
	for _, o := range seq {
		assert.False(t, seen[o], "duplicate onion %s", o)
		seen[o] = true
	}
}

func TestClasses(t *testing.T) {
	assert.True(t, Onion(Countable).Contains(DET|OPE|HOMRowDesc|SWP))
	assert.True(t, Onion(Comparable).Contains(DET|OPE))
	assert.Equal(t, Onion(OPE), Onion(IEqualComparable))
	assert.False(t, Onion(Comparable).Contains(SWP))
}

func TestNames(t *testing.T) {
	tcases := []struct {
		o    Onion
		name string
	}{
		{PLAIN, "PLAIN"},
		{DET, "DET"},
		{OPE, "OPE"},
		{HOM, "HOM"},
		{HOMRowDesc, "HOM_ROW_DESC"},
		{HOMAgg, "HOM_AGG"},
		{SWP, "SWP"},
	}
	for _, tc := range tcases {
		assert.Equal(t, tc.name, tc.o.String())
		got, ok := ByName(tc.name)
		require.True(t, ok)
		assert.Equal(t, tc.o, got)
	}
	assert.Equal(t, "DET|OPE", (DET | OPE).String())
	_, ok := ByName("XOR")
	assert.False(t, ok)
}
