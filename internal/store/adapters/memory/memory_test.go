package memory_test

import (
	"testing"

	"github.com/dropDatabas3/cilogonauth/internal/store/adapters/memory"
	"github.com/dropDatabas3/cilogonauth/internal/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, memory.New())
}
