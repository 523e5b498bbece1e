// Open-time validation: table-driven unit tests for Validate.
//
// Failures here mean: "Validate accepted options the engine cannot run
// with, or returned the wrong error kind".

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validOptions() Options {
	return Options{
		Path:            "/tmp/shadow.mdf",
		Writer:          true,
		PageSize:        4096,
		MDPagesReserved: 4,
		TickLen:         100 * time.Millisecond,
		MaxLag:          5,
	}
}

func TestValidateAcceptsWellFormedOptions(t *testing.T) {
	require.NoError(t, Validate(validOptions()))
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(Options) Options
		wantErr error
	}{
		{
			name: "empty path",
			mutate: func(o Options) Options {
				o.Path = ""

				return o
			},
			wantErr: ErrInvalid,
		},
		{
			name: "flush_raw_data reserved",
			mutate: func(o Options) Options {
				o.FlushRawData = true

				return o
			},
			wantErr: ErrUnsupported,
		},
		{
			name: "page size not a power of two",
			mutate: func(o Options) Options {
				o.PageSize = 4095

				return o
			},
			wantErr: ErrInvalid,
		},
		{
			name: "page size below header floor",
			mutate: func(o Options) Options {
				o.PageSize = 32

				return o
			},
			wantErr: ErrInvalid,
		},
		{
			name: "too few reserved pages",
			mutate: func(o Options) Options {
				o.MDPagesReserved = 1

				return o
			},
			wantErr: ErrInvalid,
		},
		{
			name: "zero tick length",
			mutate: func(o Options) Options {
				o.TickLen = 0

				return o
			},
			wantErr: ErrInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.mutate(validOptions()))
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}
