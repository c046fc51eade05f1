package observability

import (
	"testing"

	"surveycore/testutil"
)

func TestObservabilityDependsOnNoModulePackage(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImportForbidden, "every package logs through observability")
}
