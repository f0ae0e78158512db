// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package iterx

import (
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var errDone = errors.New("done")

type sliceIter struct {
	vals []string
	err  error
}

func (s *sliceIter) Next() (string, error) {
	if len(s.vals) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", errDone
	}
	v := s.vals[0]
	s.vals = s.vals[1:]
	return v, nil
}

func TestCollectMap(t *testing.T) {
	got, err := CollectMap(ToSeq2[string](&sliceIter{vals: []string{"1", "2", "3"}}, errDone), strconv.Atoi)
	if err != nil {
		t.Fatalf("CollectMap() = %v", err)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, got); diff != "" {
		t.Errorf("CollectMap() mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectMapErrors(t *testing.T) {
	boom := errors.New("boom")
	if _, err := CollectMap(ToSeq2[string](&sliceIter{vals: []string{"1"}, err: boom}, errDone), strconv.Atoi); err != boom {
		t.Errorf("CollectMap() error = %v, want %v", err, boom)
	}
	if _, err := CollectMap(ToSeq2[string](&sliceIter{vals: []string{"x"}}, errDone), strconv.Atoi); err == nil {
		t.Error("CollectMap() with bad conversion succeeded")
	}
}
