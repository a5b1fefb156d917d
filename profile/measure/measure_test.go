package measure_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Emyrk/profgraph/profile/measure"
)

func TestValues(t *testing.T) {
	var v measure.Values
	require.False(t, v.Has(measure.Samples))
	_, err := v.Must(measure.Samples)
	var undef *measure.UndefinedError
	require.True(t, errors.As(err, &undef))
	require.Equal(t, measure.Samples, undef.Kind)

	v.Add(measure.Samples, 3)
	v.Add(measure.Samples, 4)
	got, ok := v.Get(measure.Samples)
	require.True(t, ok)
	require.Equal(t, 7.0, got)

	v.Set(measure.TotalTimeRatio, 0)
	require.True(t, v.Has(measure.TotalTimeRatio), "zero is a defined value")
	require.Equal(t, []measure.Kind{measure.Samples, measure.TotalTimeRatio}, v.Defined())
	require.Equal(t, 2, v.Len())

	v.Unset(measure.Samples)
	require.False(t, v.Has(measure.Samples))
	require.Equal(t, 1, v.Len())
}

func TestAggregate(t *testing.T) {
	sum, err := measure.Time.Aggregate(1.5, 2)
	require.NoError(t, err)
	require.Equal(t, 3.5, sum)

	_, err = measure.TotalTime.Aggregate(1, 2)
	require.ErrorIs(t, err, measure.ErrNotAggregatable)
}

func TestFormat(t *testing.T) {
	testCases := []struct {
		Name   string
		Kind   measure.Kind
		Value  float64
		Expect string
	}{
		{Name: "Calls", Kind: measure.Calls, Value: 12, Expect: "12×"},
		{Name: "Time", Kind: measure.Time, Value: 0.25, Expect: "(0.25)"},
		{Name: "TotalTime", Kind: measure.TotalTime, Value: 1234.5, Expect: "1234.5"},
		{Name: "TimeRatio", Kind: measure.TimeRatio, Value: 0.5, Expect: "(50.00%)"},
		{Name: "TotalTimeRatio", Kind: measure.TotalTimeRatio, Value: 0.12345, Expect: "12.35%"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			require.Equal(t, tc.Expect, tc.Kind.Format(tc.Value))
		})
	}

	f := measure.Formatter{TimeFormat: "%.2f"}
	require.Equal(t, "(1.00)", f.Format(measure.Time, 1))
}

func TestParseLabels(t *testing.T) {
	kinds, err := measure.ParseLabels(measure.DefaultLabels)
	require.NoError(t, err)
	require.Equal(t, []measure.Kind{measure.TotalTimeRatio, measure.TimeRatio}, kinds)

	_, err = measure.ParseLabels([]string{"bogus"})
	require.Error(t, err)
}
