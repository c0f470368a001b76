package validation

// CheckDefinition describes one check a reviewer must (or may) record.
type CheckDefinition struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Family    Family `json:"family"`
	Label     string `json:"label"`
	Mandatory bool   `json:"mandatory"`
}

// Catalog holds the check definitions consulted by synthesis computation.
type Catalog struct {
	defs []CheckDefinition
	byID map[string]CheckDefinition
}

// NewCatalog builds a catalog from definitions. Later duplicates of an id
// override earlier ones.
func NewCatalog(defs []CheckDefinition) *Catalog {
	c := &Catalog{byID: make(map[string]CheckDefinition, len(defs))}
	for _, d := range defs {
		if _, ok := c.byID[d.ID]; !ok {
			c.defs = append(c.defs, d)
		}
		c.byID[d.ID] = d
	}
	return c
}

// DefaultCatalog is the baseline checklist of the accounting approval chain.
func DefaultCatalog() *Catalog {
	return NewCatalog([]CheckDefinition{
		{ID: "fc.appropriation", Role: RoleController, Family: FamilyFundControl, Label: "Appropriation available on the accounting post", Mandatory: true},
		{ID: "fc.commitment", Role: RoleController, Family: FamilyFundControl, Label: "Commitment matches the reserved funds", Mandatory: true},
		{ID: "ot.nature", Role: RoleController, Family: FamilyOperationType, Label: "Document nature admissible for the operation type", Mandatory: true},
		{ID: "ot.justification", Role: RoleController, Family: FamilyOperationType, Label: "Supporting justification complete", Mandatory: true},
		{ID: "ot.annex", Role: RoleController, Family: FamilyOperationType, Label: "Optional annexes reviewed", Mandatory: false},
		{ID: "ao.service_rendered", Role: RoleAuthorizingOfficer, Family: FamilyAuthorization, Label: "Service rendered certified", Mandatory: true},
		{ID: "ao.amount", Role: RoleAuthorizingOfficer, Family: FamilyAuthorization, Label: "Amount to authorize verified", Mandatory: true},
	})
}

// Lookup returns the definition for a check id.
func (c *Catalog) Lookup(id string) (CheckDefinition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// ForRole lists the definitions owned by a reviewer role, in catalog order.
func (c *Catalog) ForRole(role Role) []CheckDefinition {
	var out []CheckDefinition
	for _, d := range c.defs {
		if d.Role == role {
			out = append(out, d)
		}
	}
	return out
}

// Mandatory lists the mandatory check ids for a role, optionally narrowed to
// one family (empty family means all families of the role).
func (c *Catalog) Mandatory(role Role, family Family) []string {
	var out []string
	for _, d := range c.defs {
		if d.Role != role || !d.Mandatory {
			continue
		}
		if family != "" && d.Family != family {
			continue
		}
		out = append(out, d.ID)
	}
	return out
}
