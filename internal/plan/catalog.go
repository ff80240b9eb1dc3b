package plan

// Dimension identifies a metered resource dimension.
type Dimension string

const (
	DimensionGateways      Dimension = "gateways"
	DimensionWorkflows     Dimension = "workflows"
	DimensionPlugins       Dimension = "plugins"
	DimensionAICredits     Dimension = "ai_credits"
	DimensionRAMMB         Dimension = "ram_mb"
	DimensionCPUMillicores Dimension = "cpu_millicores"
	DimensionStorageMB     Dimension = "storage_mb"
)

// Dimensions lists every governed dimension.
var Dimensions = []Dimension{
	DimensionGateways,
	DimensionWorkflows,
	DimensionPlugins,
	DimensionAICredits,
	DimensionRAMMB,
	DimensionCPUMillicores,
	DimensionStorageMB,
}

// Valid reports whether d names a known dimension.
func (d Dimension) Valid() bool {
	for _, known := range Dimensions {
		if d == known {
			return true
		}
	}
	return false
}

// Tier is a subscription plan tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ExecutionMode distinguishes metered cloud execution from unmetered
// self-hosted runners.
type ExecutionMode string

const (
	ExecutionModeCloud      ExecutionMode = "cloud"
	ExecutionModeSelfHosted ExecutionMode = "self_hosted"
)

// Plan defines the capacities a tier grants.
type Plan struct {
	Tier              Tier
	Pools             map[Dimension]Limit
	MonthlyExecutions Limit
	InitialCredits    int64
}

// PoolLimit returns the pool limit for a dimension, Capped(0) for
// dimensions the plan does not grant.
func (p Plan) PoolLimit(d Dimension) Limit {
	if limit, ok := p.Pools[d]; ok {
		return limit
	}
	return Capped(0)
}

var catalog = map[Tier]Plan{
	TierFree: {
		Tier: TierFree,
		Pools: map[Dimension]Limit{
			DimensionGateways:      Capped(1),
			DimensionWorkflows:     Capped(5),
			DimensionPlugins:       Capped(3),
			DimensionAICredits:     Capped(100),
			DimensionRAMMB:         Capped(512),
			DimensionCPUMillicores: Capped(500),
			DimensionStorageMB:     Capped(1024),
		},
		MonthlyExecutions: Capped(500),
		InitialCredits:    100,
	},
	TierStarter: {
		Tier: TierStarter,
		Pools: map[Dimension]Limit{
			DimensionGateways:      Capped(3),
			DimensionWorkflows:     Capped(25),
			DimensionPlugins:       Capped(10),
			DimensionAICredits:     Capped(1000),
			DimensionRAMMB:         Capped(2048),
			DimensionCPUMillicores: Capped(2000),
			DimensionStorageMB:     Capped(10240),
		},
		MonthlyExecutions: Capped(10000),
		InitialCredits:    1000,
	},
	TierPro: {
		Tier: TierPro,
		Pools: map[Dimension]Limit{
			DimensionGateways:      Capped(10),
			DimensionWorkflows:     Capped(100),
			DimensionPlugins:       Capped(50),
			DimensionAICredits:     Capped(10000),
			DimensionRAMMB:         Capped(8192),
			DimensionCPUMillicores: Capped(8000),
			DimensionStorageMB:     Capped(102400),
		},
		MonthlyExecutions: Capped(100000),
		InitialCredits:    10000,
	},
	TierEnterprise: {
		Tier: TierEnterprise,
		Pools: map[Dimension]Limit{
			DimensionGateways:      Unlimited(),
			DimensionWorkflows:     Unlimited(),
			DimensionPlugins:       Unlimited(),
			DimensionAICredits:     Unlimited(),
			DimensionRAMMB:         Unlimited(),
			DimensionCPUMillicores: Unlimited(),
			DimensionStorageMB:     Unlimited(),
		},
		MonthlyExecutions: Unlimited(),
		InitialCredits:    100000,
	},
}

// ForTier returns the plan for a tier, defaulting to free for unknown
// tiers.
func ForTier(tier Tier) Plan {
	if p, ok := catalog[tier]; ok {
		return p
	}
	return catalog[TierFree]
}
