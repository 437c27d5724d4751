package worker

import (
	"strings"

	"github.com/hibiken/asynq"
)

const defaultRedisAddr = "localhost:6379"

// RedisOpt accepts either a redis:// URI or a plain host:port.
func RedisOpt(addr string) (asynq.RedisConnOpt, error) {
	if addr == "" {
		addr = defaultRedisAddr
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		return asynq.ParseRedisURI(addr)
	}
	return asynq.RedisClientOpt{Addr: addr}, nil
}
