package audit

import (
	"github.com/smallbiznis/flowgate/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit",
	fx.Provide(service.New),
)
