package providers

import "time"

// shutdownTimeout bounds graceful shutdown of any one service.
const shutdownTimeout = 30 * time.Second
