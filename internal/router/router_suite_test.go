package router

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRouterSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Command Router Suite")
}
