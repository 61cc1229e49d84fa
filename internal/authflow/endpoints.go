package authflow

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/techcodex/codexcloud/internal/cloud"
	"github.com/techcodex/codexcloud/internal/config"
)

// endpointFor returns the provider's OAuth2 endpoint pair. OneDrive is
// multi-tenant: the endpoint is parameterized by the tenant id.
func endpointFor(name cloud.Name, tenant string) oauth2.Endpoint {
	switch name {
	case cloud.GitHub:
		return github.Endpoint
	case cloud.GDrive:
		return google.Endpoint
	case cloud.OneDrive:
		if tenant == "" {
			tenant = config.DefaultTenant
		}

		return microsoft.AzureADEndpoint(tenant)
	default:
		return oauth2.Endpoint{}
	}
}
