package worker_test

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/fx"

	"github.com/tidepool-org/cdc-worker/cdc"
	"github.com/tidepool-org/cdc-worker/pipeline"
	"github.com/tidepool-org/cdc-worker/worker"
)

var requiredEnvVariables = map[string]string{
	"MONGO_URI":              "mongodb://localhost:27017",
	"CDC_CHECKPOINT_BACKEND": "memory",
	"CDC_DESTINATION":        "redis",
	"LOG_LEVEL":              "debug",
}

var _ = Describe("Boostrap", func() {
	Describe("Fx App", func() {
		var app *fx.App
		var components worker.Components

		BeforeEach(func() {
			SetRequiredEnvVariables()
		})

		JustBeforeEach(func() {
			init := func(c worker.Components) {
				components = c
			}
			opts := append([]fx.Option{}, worker.Modules...)
			opts = append(opts, fx.Invoke(init), fx.NopLogger)

			app = fx.New(opts...)
			Expect(app).ToNot(BeNil())
		})

		AfterEach(func() {
			components = worker.Components{}
			ClearRequiredEnvVariables()
		})

		It("build the DI graph successfully", func() {
			Expect(app.Err()).ToNot(HaveOccurred())
		})

		It("instantiates a health check server", func() {
			Expect(components.HealthCheckServer).ToNot(BeNil())
			Expect(components.HealthCheckServer.Addr).To(Equal(":8080"))
		})

		It("instantiates the pipeline", func() {
			Expect(components.Runner).To(BeAssignableToTypeOf(&pipeline.Pipeline{}))
		})

		Context("when cdc is disabled", func() {
			BeforeEach(func() {
				Expect(os.Setenv("CDC_ENABLED", "false")).To(Succeed())
			})

			AfterEach(func() {
				Expect(os.Unsetenv("CDC_ENABLED")).To(Succeed())
			})

			It("instantiates a disabled runner", func() {
				Expect(app.Err()).ToNot(HaveOccurred())
				Expect(components.Runner).To(BeAssignableToTypeOf(&cdc.DisabledRunner{}))
			})
		})

		Context("when the configuration is invalid", func() {
			BeforeEach(func() {
				Expect(os.Setenv("CDC_DESTINATION", "s3")).To(Succeed())
			})

			It("fails to build the DI graph", func() {
				Expect(app.Err()).To(HaveOccurred())
			})
		})
	})
})

func SetRequiredEnvVariables() {
	for key, value := range requiredEnvVariables {
		Expect(os.Setenv(key, value)).To(Succeed())
	}
}

func ClearRequiredEnvVariables() {
	for key := range requiredEnvVariables {
		Expect(os.Unsetenv(key)).To(Succeed())
	}
}
