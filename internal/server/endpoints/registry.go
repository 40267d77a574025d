package endpoints

import (
	"github.com/evanhollis/eraflow/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Document endpoints
		&ListDocumentsEndpoint{},
		&GetDocumentEndpoint{},
		&ProcessDocumentEndpoint{},
		&UploadDocumentEndpoint{},
		&ReprocessDocumentEndpoint{},
		&ReconciliationEndpoint{},

		// Line item endpoints
		&ListItemsEndpoint{},
		&UpdateItemEndpoint{},

		// Remittance export endpoints
		&GenerateRemitEndpoint{},
		&UnlockExportEndpoint{},

		// Credit ledger endpoints
		&GetCreditsEndpoint{},
		&GrantCreditsEndpoint{},

		// Recovery sweep
		&TriggerSweepEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}

// DocumentCommands returns the endpoints grouped under "documents" in the CLI.
func DocumentCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListDocumentsEndpoint{},
		&GetDocumentEndpoint{},
		&ProcessDocumentEndpoint{},
		&ReprocessDocumentEndpoint{},
		&ReconciliationEndpoint{},
		&ListItemsEndpoint{},
	}
}

// RemitCommands returns the endpoints grouped under "remits" in the CLI.
func RemitCommands() []api.Endpoint {
	return []api.Endpoint{
		&GenerateRemitEndpoint{},
		&UnlockExportEndpoint{},
	}
}

// CreditCommands returns the endpoints grouped under "credits" in the CLI.
func CreditCommands() []api.Endpoint {
	return []api.Endpoint{
		&GetCreditsEndpoint{},
		&GrantCreditsEndpoint{},
	}
}
