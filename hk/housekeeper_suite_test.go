package hk_test

import (
	"testing"
	"time"

	"github.com/peismesh/kernel/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestHousekeeper(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}

var _ = Describe("Housekeeper", func() {
	It("runs a registered job on its interval", func() {
		calls := make(chan struct{}, 8)
		hk.DefaultHK.Reg("probe", 20*time.Millisecond, func() time.Duration {
			calls <- struct{}{}
			return 0
		})
		Eventually(calls, "2s").Should(Receive())
	})
})
