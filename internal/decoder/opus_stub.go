//go:build !opus
// +build !opus

package decoder

import (
	"context"
	"fmt"
)

func decodeOpus(ctx context.Context, raw []byte, sampleRate int) (*Audio, error) {
	return nil, &DecodeError{
		Format: FormatOpus,
		Err:    fmt.Errorf("%w: built without opus support (rebuild with -tags opus)", ErrUnsupportedFormat),
	}
}
