package entitlement

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const policyModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.act, p.act)
`

// defaultPolicy is the role rule table. program_manager holds a fixed set
// that includes payment-gated capabilities, so it never depends on billing.
var defaultPolicy = [][]string{
	{RoleAdmin, "*"},

	{RoleProgramManager, string(CapProgramsView)},
	{RoleProgramManager, string(CapProgramsManage)},
	{RoleProgramManager, string(CapLicensesRead)},
	{RoleProgramManager, string(CapDownloadsAccess)},
	{RoleProgramManager, string(CapReportsView)},

	{RoleSales, string(CapLicensesRead)},
	{RoleSales, string(CapCreditsRead)},
	{RoleSales, string(CapDealsManage)},

	{RoleCustomer, string(CapCreditsRead)},
	{RoleCustomer, string(CapCreditsRequest)},
}

func newEnforcer(rules [][]string) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("parse policy model: %w", err)
	}

	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	if len(rules) > 0 {
		if _, err := e.AddPolicies(rules); err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
	}
	return e, nil
}
