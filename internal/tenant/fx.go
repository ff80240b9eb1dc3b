package tenant

import (
	"github.com/smallbiznis/flowgate/internal/tenant/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant",
	fx.Provide(repository.New),
)
