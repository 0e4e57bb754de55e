package orchestrator

import (
	"os"

	"gopkg.in/yaml.v3"
)

// load shipd config from a file.
//
// args:
//   - filepath: filepath refers a config file.
//
// returns *OrchestratorConfig, error:
//
//	When loading success, returns `(*OrchestratorConfig, nil)`.
//	Otherwise, returns `(nil, error)`.
func LoadOrchestratorConfig(filepath string) (*OrchestratorConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

func Unmarshal(conf []byte) (out *OrchestratorConfig, err error) {
	var _out *OrchestratorConfigMarshall
	err = yaml.Unmarshal(conf, &_out)
	if err != nil {
		return nil, err
	}
	out = TrySeal(_out)
	return out, nil
}
