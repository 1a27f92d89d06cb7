package pagerange

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseMixedSegments(t *testing.T) {
	got, err := Parse("1-3,5", 10)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := []int{0, 1, 2, 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse = %v, want %v", got, want)
	}
}

func TestParseOverlapDeduplicated(t *testing.T) {
	got, err := Parse("1-4,3-5,4", 10)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := []int{0, 1, 2, 3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse = %v, want %v", got, want)
	}
}

func TestParseEmptyExpression(t *testing.T) {
	if _, err := Parse("", 10); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestParseOutOfDomainOnly(t *testing.T) {
	if _, err := Parse("0,99", 10); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestParseReversedSegmentContributesNothing(t *testing.T) {
	if _, err := Parse("5-2", 10); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for reversed-only expression, got %v", err)
	}

	got, err := Parse("5-2,1", 10)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := []int{0}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse = %v, want %v", got, want)
	}
}

func TestParseDropsGarbageTokens(t *testing.T) {
	got, err := Parse("abc, 2, x-y, 4-4", 10)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := []int{1, 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse = %v, want %v", got, want)
	}
}
