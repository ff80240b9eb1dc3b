package wallet

import (
	"github.com/smallbiznis/flowgate/internal/wallet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet",
	fx.Provide(service.New),
)
