// Code generated by dependgen — DO NOT EDIT.
package security

import "github.com/srgg/testify/depend"

var BondLifecycleTestSuiteTestRegistry = map[string]func(any){
	"TestPairing": func(s any) { s.(*BondLifecycleTestSuite).TestPairing() },
	"TestBondSurvivesReconnect": func(s any) { s.(*BondLifecycleTestSuite).TestBondSurvivesReconnect() },
	"TestClearPairings": func(s any) { s.(*BondLifecycleTestSuite).TestClearPairings() },
}

var BondLifecycleTestSuiteTestOrder = []string{
	"TestPairing",
	"TestBondSurvivesReconnect",
	"TestClearPairings",
}

var BondLifecycleTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	dep.On("TestBondSurvivesReconnect", "TestPairing")
	dep.On("TestClearPairings", "TestBondSurvivesReconnect")
	return dep
})

// GeneratedDependConfig returns the dependency configuration for BondLifecycleTestSuite.
// This method allows BondLifecycleTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *BondLifecycleTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: BondLifecycleTestSuiteTestRegistry,
		Order:    BondLifecycleTestSuiteTestOrder,
		Deps:     BondLifecycleTestSuiteDependencies,
	}
}
