package domain

import (
	"testing"

	"labexec/testutil"
)

func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain must not depend on implementation packages")
}

func TestDomainStaysOnStandardLibrary(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ThirdPartyImport, "domain types are shared by every backend")
}
