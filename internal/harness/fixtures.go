package harness

import (
	"errors"

	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/function"
)

// Fixtures are the definitions and examples under validation. A fixture
// that failed to load carries its error instead, so the checks that need it
// can report it while the rest still run.
type Fixtures struct {
	Function    *function.Function
	FunctionErr error

	Profile    *function.Profile
	ProfileErr error

	Inputs    []function.ExampleInput
	InputsErr error
}

// LoadFixtures reads all three fixture files. It never fails as a whole;
// per-file errors are recorded on the result.
func LoadFixtures(functionPath, profilePath, inputsPath string) *Fixtures {
	f := &Fixtures{}
	f.Function, f.FunctionErr = function.LoadFunction(functionPath)
	f.Profile, f.ProfileErr = function.LoadProfile(profilePath)
	f.Inputs, f.InputsErr = function.LoadInputs(inputsPath)
	return f
}

func (f *Fixtures) function() (*function.Function, error) {
	if f.FunctionErr != nil {
		return nil, f.FunctionErr
	}
	if f.Function == nil {
		return nil, errors.New("no function loaded")
	}
	return f.Function, nil
}

func (f *Fixtures) profile() (*function.Profile, error) {
	if f.ProfileErr != nil {
		return nil, f.ProfileErr
	}
	if f.Profile == nil {
		return nil, errors.New("no profile loaded")
	}
	return f.Profile, nil
}

// inputs returns the examples when all of them decoded. A partially
// decoded list is unusable for the checks that compare against it.
func (f *Fixtures) inputs() ([]function.ExampleInput, error) {
	if f.InputsErr != nil {
		return nil, f.InputsErr
	}
	return f.Inputs, nil
}
