package iam

import (
	tenantevent "github.com/smallbiznis/stratus/internal/tenant/event"
	"go.uber.org/fx"
)

var Module = fx.Module("iam",
	fx.Provide(
		NewEnforcer,
		NewService,
	),
	fx.Invoke(subscribeRoleChanges),
)

// subscribeRoleChanges drops the cached role whenever a membership mutation
// commits, so a demoted member loses access on the next request.
func subscribeRoleChanges(svc Service, bus *tenantevent.Bus) {
	impl, ok := svc.(*ServiceImpl)
	if !ok {
		return
	}
	bus.SubscribeMemberRoleChanged(func(evt tenantevent.MemberRoleChanged) {
		impl.InvalidateRole(evt.TenantID, evt.UserID)
	})
}
