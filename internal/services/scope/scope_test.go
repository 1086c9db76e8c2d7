package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func groupPtr(g NamespaceGroup) *NamespaceGroup { return &g }
func nsPtr(id int64) *int64                     { return &id }

func TestGlobalBucket(t *testing.T) {
	facts := NewFacts([]Grant{
		{Scope: LocalityRead},
		{Scope: MetaRead, NamespaceGroup: groupPtr(GroupAll)},
	})

	assert.True(t, facts.HasGlobal(LocalityRead))
	// "all" namespace group with no namespace counts as a global grant.
	assert.True(t, facts.HasGlobal(MetaRead))
	assert.False(t, facts.HasGlobal(LocalityWrite))
	assert.False(t, facts.HasGlobal(NamespaceCreate))
}

func TestGlobalWildcard(t *testing.T) {
	facts := NewFacts([]Grant{{Scope: All}})

	assert.True(t, facts.HasGlobal(LocalityRead))
	assert.True(t, facts.HasGlobal(MetaWrite))
	assert.True(t, facts.CanCreateNamespace())
}

func TestNamespaceGroupBucket(t *testing.T) {
	facts := NewFacts([]Grant{
		{Scope: NamespaceRead, NamespaceGroup: groupPtr(GroupPublic)},
	})

	assert.True(t, facts.HasNamespaceGroup(NamespaceRead, GroupPublic))
	assert.False(t, facts.HasNamespaceGroup(NamespaceRead, GroupPrivate))
	assert.False(t, facts.HasNamespaceGroup(NamespaceWrite, GroupPublic))

	// A group-scoped grant is not a global grant.
	assert.False(t, facts.HasGlobal(NamespaceRead))
}

func TestNamespaceGroupWildcards(t *testing.T) {
	tests := []struct {
		name  string
		grant Grant
	}{
		{"wildcard scope in group", Grant{Scope: All, NamespaceGroup: groupPtr(GroupPrivate)}},
		{"scope in all-group", Grant{Scope: NamespaceRead, NamespaceGroup: groupPtr(GroupAll)}},
		{"wildcard scope in all-group", Grant{Scope: All, NamespaceGroup: groupPtr(GroupAll)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := NewFacts([]Grant{tt.grant})
			assert.True(t, facts.HasNamespaceGroup(NamespaceRead, GroupPrivate))
		})
	}
}

func TestNamespaceBucket(t *testing.T) {
	facts := NewFacts([]Grant{
		{Scope: NamespaceRead, NamespaceID: nsPtr(7)},
	})

	// Private namespace 7: specific grant applies.
	assert.True(t, facts.HasNamespace(NamespaceRead, 7, false))
	// Other namespaces and scopes do not.
	assert.False(t, facts.HasNamespace(NamespaceRead, 8, false))
	assert.False(t, facts.HasNamespace(NamespaceWrite, 7, false))
}

func TestNamespaceWildcardScope(t *testing.T) {
	facts := NewFacts([]Grant{
		{Scope: All, NamespaceID: nsPtr(7)},
	})
	assert.True(t, facts.HasNamespace(NamespaceRead, 7, false))
	assert.True(t, facts.HasNamespace(NamespaceWrite, 7, true))
}

func TestNamespaceVisibilityGroupFallback(t *testing.T) {
	facts := NewFacts([]Grant{
		{Scope: NamespaceRead, NamespaceGroup: groupPtr(GroupPublic)},
	})

	// Public namespace resolves to the public bucket.
	assert.True(t, facts.HasNamespace(NamespaceRead, 42, true))
	// Private namespace does not fall back to the public bucket.
	assert.False(t, facts.HasNamespace(NamespaceRead, 42, false))
}

func TestGroupInheritedGrants(t *testing.T) {
	// Grants for facts are the union of user and group grants; NewFacts does
	// not care about provenance, so inheriting is pure aggregation.
	own := Grant{Scope: NamespaceRead, NamespaceID: nsPtr(1)}
	inherited := Grant{Scope: NamespaceWrite, NamespaceID: nsPtr(2)}
	facts := NewFacts([]Grant{own, inherited})

	assert.True(t, facts.CanReadInNamespace(1, false))
	assert.True(t, facts.CanWriteInNamespace(2, false))
	assert.False(t, facts.CanWriteInNamespace(1, false))
}

func TestWriteDerivedImpliedByWrite(t *testing.T) {
	base := NewFacts([]Grant{{Scope: NamespaceWrite, NamespaceID: nsPtr(3)}})
	assert.True(t, base.CanWriteDerivedInNamespace(3, false))
	assert.True(t, base.CanWriteInNamespace(3, false))

	derivedOnly := NewFacts([]Grant{{Scope: NamespaceWriteDerived, NamespaceID: nsPtr(3)}})
	assert.True(t, derivedOnly.CanWriteDerivedInNamespace(3, false))
	// Derived write must not grant base write.
	assert.False(t, derivedOnly.CanWriteInNamespace(3, false))
}

func TestMalformedGrantIgnored(t *testing.T) {
	facts := NewFacts([]Grant{
		{Scope: NamespaceRead, NamespaceGroup: groupPtr(GroupPublic), NamespaceID: nsPtr(5)},
	})
	assert.False(t, facts.HasNamespace(NamespaceRead, 5, true))
	assert.False(t, facts.HasNamespaceGroup(NamespaceRead, GroupPublic))
	assert.False(t, facts.HasGlobal(NamespaceRead))
}

func TestEmptyFacts(t *testing.T) {
	facts := NewFacts(nil)
	assert.False(t, facts.CanReadLocalities())
	assert.False(t, facts.HasNamespace(NamespaceRead, 1, true))
	assert.False(t, facts.HasNamespaceGroup(NamespaceRead, GroupAll))
}
