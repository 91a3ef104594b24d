// Package coordinator is the composition root of apicore.
//
// A Coordinator is built from a config.Config and owns exactly one tiered
// cache, one batch processor and one resource manager:
//
//	coord, err := coordinator.New(ctx, cfg, coordinator.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer coord.Shutdown(context.Background())
//
//	issue, err := coordinator.Fetch(ctx, coord, "jira", "jira:issue:PROJ-1",
//		func(ctx context.Context) (Issue, error) { return client.GetIssue(ctx, "PROJ-1") },
//		tiercache.WithTTL(10*time.Minute))
//
// Fetch consults the cache first, then admits the call through the named
// resource class, runs the loader and stores the result in every tier.
// Concurrent fetches of the same key share one upstream call.
package coordinator
