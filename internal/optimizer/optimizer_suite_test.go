package optimizer_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/ercrd/internal/logging"
)

func TestOptimizer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Optimizer Suite")
}

var _ = BeforeSuite(func() {
	Expect(logging.SetLevel("disabled")).To(Succeed())
})
