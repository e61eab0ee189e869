package provisioning

import (
	"fmt"

	"github.com/backkem/zwave/pkg/security"
)

// Provisioning errors. Both match security.ErrInvalidArgument with
// errors.Is.
var (
	ErrInvalidQRCode = fmt.Errorf("%w: invalid QR code", security.ErrInvalidArgument)
	ErrInvalidDSK    = fmt.Errorf("%w: invalid DSK", security.ErrInvalidArgument)
)

func qrError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidQRCode}, args...)...)
}
