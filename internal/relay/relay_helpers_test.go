package relay

import (
	"io"

	logx "relaybot/pkg/logx"
)

func testLogger() logx.Logger { return logx.NewWriter(io.Discard, "debug") }
