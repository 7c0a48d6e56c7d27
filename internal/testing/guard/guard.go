package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("SISTEMAGESTAO_TEST_MODE") == "" {
			_ = os.Setenv("SISTEMAGESTAO_TEST_MODE", "1")
		}
	})
}
