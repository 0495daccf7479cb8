package gateway

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nulzo/bot-router/internal/cli"
	"github.com/nulzo/bot-router/internal/config"
	"github.com/nulzo/bot-router/internal/vendor"
	"go.uber.org/zap"
)

// BuildVendorRegistry extends the built-in vendor table with the configured
// entries. Invalid entries are skipped with a warning.
func BuildVendorRegistry(entries []config.VendorConfig, log *zap.Logger) *vendor.Registry {
	validate := validator.New()
	overrides := make([]vendor.Config, 0, len(entries))

	for _, entry := range entries {
		if err := validate.Struct(&entry); err != nil {
			log.Warn(fmt.Sprintf("%s %s %s",
				cli.WarningSign(),
				cli.Stylize(fmt.Sprintf("%s\t", entry.ID), cli.Black),
				cli.Stylize("Skipping vendor with invalid configuration", cli.Yellow),
			), zap.Error(err))
			continue
		}

		vc, err := vendorFromConfig(entry)
		if err != nil {
			log.Warn("Skipping vendor", zap.String("vendor", entry.ID), zap.Error(err))
			continue
		}
		overrides = append(overrides, vc)
	}

	registry := vendor.DefaultRegistry(overrides...)
	for _, vc := range overrides {
		log.Info(fmt.Sprintf("%s %s %s",
			cli.CheckMark(),
			cli.Stylize(fmt.Sprintf("%s\t", vc.ID), cli.Black),
			cli.Stylize(vc.BaseURL(), cli.Cyan),
		))
	}
	return registry
}

func vendorFromConfig(entry config.VendorConfig) (vendor.Config, error) {
	vc, err := vendor.FromBaseURL(entry.ID, entry.BaseURL, vendor.APIType(entry.APIType))
	if err != nil {
		return vendor.Config{}, err
	}

	if entry.AuthHeader != "" {
		vc.AuthHeader = entry.AuthHeader
	}
	switch strings.ToLower(entry.AuthFormat) {
	case "bearer":
		vc.AuthFormat = vendor.Bearer
	case "raw":
		vc.AuthFormat = vendor.Raw
	}

	if len(entry.DefaultHeaders) > 0 {
		headers := make(map[string]string, len(vc.DefaultHeaders)+len(entry.DefaultHeaders))
		for k, v := range vc.DefaultHeaders {
			headers[k] = v
		}
		for k, v := range entry.DefaultHeaders {
			headers[k] = v
		}
		vc.DefaultHeaders = headers
	}
	return vc, nil
}
