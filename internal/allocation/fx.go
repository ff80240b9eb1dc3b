package allocation

import (
	"github.com/smallbiznis/flowgate/internal/allocation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("allocation",
	fx.Provide(service.New),
)
