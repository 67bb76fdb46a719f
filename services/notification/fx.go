package notification

import (
	"loyalty-checkin/pkg/config"
	"loyalty-checkin/pkg/rabbitmq"

	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(
		NewFactory,
	),
)

// Factory builds per-session dispatchers sharing the mapper and push sink.
type Factory struct {
	Mapper Mapper
	push   *AMQPSink
}

type FactoryParams struct {
	fx.In
	Config   *config.Config
	Producer *rabbitmq.Producer `optional:"true"`
}

func NewFactory(p FactoryParams) *Factory {
	return &Factory{
		Mapper: Mapper{RouletteRevealDelay: p.Config.Realtime.RouletteRevealDelay},
		push:   provideAMQPSink(p.Config, p.Producer),
	}
}

func (f *Factory) NewDispatcher(sink Sink) *Dispatcher {
	if f.push == nil {
		return NewDispatcher(sink)
	}
	return NewDispatcher(sink, f.push)
}
