// Package resolver loads named modules through an ordered chain of loader
// tiers and falls back to an inert stub when every tier fails.
//
// Each id is resolved once: the first result, real or stub, is cached for
// the life of the Resolver and concurrent callers share a single load.
//
//	r := resolver.New(resolver.Config{}, resolver.WithTiers(
//		resolver.CatalogTier(catalog),
//		resolver.HTTPTier(resolver.HTTPTierConfig{BaseURL: "https://cdn.example.com/modules"}, nil),
//	))
//	mod := r.Resolve(ctx, "charts")
//	out, err := mod.Call(ctx, "render", data)
package resolver
