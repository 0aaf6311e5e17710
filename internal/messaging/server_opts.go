package messaging

import "time"

type BusOpt func(*Bus)

func WithStartTimeout(d time.Duration) BusOpt {
	return func(b *Bus) {
		b.startupTimeout = d
	}
}

func WithHost(host string) BusOpt {
	return func(b *Bus) {
		b.host = host
	}
}

func WithPort(port int) BusOpt {
	return func(b *Bus) {
		b.port = port
	}
}
