//go:build rp2040 || rp2350

package uart

import (
	"context"
	"log/slog"

	"github.com/jangala-dev/tinygo-uartx/uartx"
)

// BaudRate of the trigger line.
const BaudRate = 115200

var port = uartx.UART1

// Listen configures UART1 on its default pins and publishes one data event
// per readiness wake with the number of bytes drained. Received bytes are
// discarded; only their arrival matters.
func Listen(ctx context.Context, src *Source, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := port.Configure(uartx.UARTConfig{
		BaudRate: BaudRate,
		TX:       uartx.UART1_TX_PIN,
		RX:       uartx.UART1_RX_PIN,
	}); err != nil {
		return err
	}
	logger.Info("uart listening", slog.Int("baud", BaudRate))

	buf := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-port.Readable():
		}

		total := 0
		for {
			n := port.TryRead(buf)
			if n == 0 {
				break
			}
			total += n
		}
		if total == 0 {
			continue
		}
		if !src.Inject(total) {
			logger.Warn("uart event dropped", slog.Int("len", total))
		}
	}
}
