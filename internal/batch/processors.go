package batch

import (
	"context"

	"github.com/colthorp/bsky-cli-go/internal/api"
)

// GraphClient is the part of the API the follow processors need.
type GraphClient interface {
	GetProfile(ctx context.Context, actor string) (*api.ProfileViewDetailed, error)
	Follow(ctx context.Context, did string) (*api.CreateRecordOutput, error)
	Unfollow(ctx context.Context, followURI string) error
}

// FollowProcessor follows actor unless the profile's viewer state shows an
// existing follow. A duplicate-record error also counts as skipped.
func FollowProcessor(client GraphClient) Processor {
	return func(ctx context.Context, actor string) (Outcome, error) {
		profile, err := client.GetProfile(ctx, actor)
		if err != nil {
			return Done, err
		}
		if profile.Viewer != nil && profile.Viewer.Following != "" {
			return Skipped, nil
		}
		if _, err := client.Follow(ctx, profile.DID); err != nil {
			if api.IsAlreadyExists(err) {
				return Skipped, nil
			}
			return Done, err
		}
		return Done, nil
	}
}

// UnfollowProcessor deletes the viewer's follow record of actor, or skips
// when there is none.
func UnfollowProcessor(client GraphClient) Processor {
	return func(ctx context.Context, actor string) (Outcome, error) {
		profile, err := client.GetProfile(ctx, actor)
		if err != nil {
			return Done, err
		}
		if profile.Viewer == nil || profile.Viewer.Following == "" {
			return Skipped, nil
		}
		if err := client.Unfollow(ctx, profile.Viewer.Following); err != nil {
			return Done, err
		}
		return Done, nil
	}
}
