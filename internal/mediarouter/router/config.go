package router

import "time"

// CoreConfig is the configuration surface of the Router Core (spec §6.4).
type CoreConfig struct {
	InputQueueSizeSeconds     int
	PullTimeoutMS             int
	ProducerBlockMS           int
	PublisherBypassTranscoder bool
}

// applyDefaults fills zero values with the defaults from spec §6.4.
func (c *CoreConfig) applyDefaults() {
	if c.InputQueueSizeSeconds == 0 {
		c.InputQueueSizeSeconds = 3
	}
	if c.PullTimeoutMS == 0 {
		c.PullTimeoutMS = 3000
	}
	if c.ProducerBlockMS == 0 {
		c.ProducerBlockMS = 200
	}
}

func (c *CoreConfig) pullTimeout() time.Duration {
	return time.Duration(c.PullTimeoutMS) * time.Millisecond
}

func (c *CoreConfig) producerBlock() time.Duration {
	return time.Duration(c.ProducerBlockMS) * time.Millisecond
}
