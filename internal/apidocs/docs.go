// Package apidocs registers the OpenAPI description served under /docs.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/generate": {
            "post": {
                "summary": "Generate one batch of records",
                "tags": ["generation"],
                "parameters": [{"in": "body", "name": "config", "required": true, "schema": {"$ref": "#/definitions/DatasetConfig"}}],
                "responses": {
                    "200": {"description": "records keyed by split with token usage and cost"},
                    "400": {"description": "missing useCase, model or template"},
                    "429": {"description": "upstream rate limited"},
                    "502": {"description": "upstream call failed"}
                }
            }
        },
        "/models": {
            "get": {
                "summary": "List the model catalog",
                "tags": ["economics"],
                "parameters": [{"in": "query", "name": "provider", "type": "string"}],
                "responses": {"200": {"description": "models with prices"}}
            }
        },
        "/auth/register": {
            "post": {
                "summary": "Create an account",
                "tags": ["auth"],
                "responses": {"201": {"description": "token and user"}, "409": {"description": "email already exists"}}
            }
        },
        "/auth/login": {
            "post": {
                "summary": "Log in",
                "tags": ["auth"],
                "responses": {"200": {"description": "token and user"}, "401": {"description": "invalid credentials"}}
            }
        },
        "/cost/estimate": {
            "post": {
                "summary": "Estimate the cost of a run",
                "tags": ["economics"],
                "security": [{"Bearer": []}],
                "responses": {"200": {"description": "estimated tokens and cost"}}
            }
        },
        "/sessions": {
            "post": {
                "summary": "Create a session key",
                "tags": ["auth"],
                "security": [{"Bearer": []}],
                "responses": {"201": {"description": "session"}}
            }
        },
        "/sessions/{key}/validate": {
            "get": {
                "summary": "Check a session key belongs to the caller",
                "tags": ["auth"],
                "security": [{"Bearer": []}],
                "parameters": [{"in": "path", "name": "key", "type": "string", "required": true}],
                "responses": {"200": {"description": "valid flag"}}
            }
        },
        "/runs": {
            "post": {
                "summary": "Start a generation run",
                "tags": ["runs"],
                "security": [{"Bearer": []}],
                "responses": {"202": {"description": "run snapshot"}, "400": {"description": "invalid config"}}
            }
        },
        "/runs/{id}": {
            "get": {
                "summary": "Get a run snapshot",
                "tags": ["runs"],
                "security": [{"Bearer": []}],
                "parameters": [{"$ref": "#/parameters/id"}],
                "responses": {"200": {"description": "run snapshot"}, "404": {"description": "run not found"}}
            }
        },
        "/runs/{id}/cancel": {
            "post": {
                "summary": "Cancel a run",
                "tags": ["runs"],
                "security": [{"Bearer": []}],
                "parameters": [{"$ref": "#/parameters/id"}],
                "responses": {"200": {"description": "run snapshot"}}
            }
        },
        "/runs/{id}/stream": {
            "get": {
                "summary": "Stream run progress over a websocket",
                "tags": ["runs"],
                "security": [{"Bearer": []}],
                "parameters": [{"$ref": "#/parameters/id"}],
                "responses": {"101": {"description": "switching protocols"}}
            }
        },
        "/runs/{id}/save": {
            "post": {
                "summary": "Save a finished run as a dataset",
                "tags": ["runs"],
                "security": [{"Bearer": []}],
                "parameters": [{"$ref": "#/parameters/id"}],
                "responses": {"201": {"description": "stored dataset"}, "400": {"description": "run still running or empty"}}
            }
        },
        "/runs/{id}/events": {
            "get": {
                "summary": "List the stored events of a run",
                "tags": ["runs"],
                "security": [{"Bearer": []}],
                "parameters": [{"$ref": "#/parameters/id"}],
                "responses": {"200": {"description": "events"}}
            }
        },
        "/scratch": {
            "get": {
                "summary": "Get the in-progress snapshot of the caller's session",
                "tags": ["runs"],
                "security": [{"Bearer": []}],
                "responses": {"200": {"description": "snapshot"}, "404": {"description": "no snapshot"}}
            },
            "delete": {
                "summary": "Clear the in-progress snapshot",
                "tags": ["runs"],
                "security": [{"Bearer": []}],
                "responses": {"204": {"description": "cleared"}}
            }
        },
        "/datasets": {
            "get": {
                "summary": "List saved datasets",
                "tags": ["datasets"],
                "security": [{"Bearer": []}],
                "responses": {"200": {"description": "dataset summaries"}}
            }
        },
        "/datasets/{id}": {
            "get": {
                "summary": "Get a dataset",
                "tags": ["datasets"],
                "security": [{"Bearer": []}],
                "parameters": [{"$ref": "#/parameters/id"}],
                "responses": {"200": {"description": "dataset"}, "404": {"description": "dataset not found"}}
            },
            "put": {
                "summary": "Update a dataset",
                "tags": ["datasets"],
                "security": [{"Bearer": []}],
                "parameters": [{"$ref": "#/parameters/id"}],
                "responses": {"200": {"description": "dataset"}}
            },
            "delete": {
                "summary": "Delete a dataset",
                "tags": ["datasets"],
                "security": [{"Bearer": []}],
                "parameters": [{"$ref": "#/parameters/id"}],
                "responses": {"204": {"description": "deleted"}}
            }
        },
        "/datasets/{id}/export": {
            "get": {
                "summary": "Download a dataset or one split as JSON",
                "tags": ["datasets"],
                "security": [{"Bearer": []}],
                "parameters": [{"$ref": "#/parameters/id"}, {"in": "query", "name": "split", "type": "string"}],
                "responses": {"200": {"description": "JSON attachment"}, "404": {"description": "split not found"}}
            }
        },
        "/user/me": {
            "get": {"summary": "Current user", "tags": ["auth"], "security": [{"Bearer": []}], "responses": {"200": {"description": "user"}}}
        },
        "/user/stats": {
            "get": {"summary": "Dataset and row totals", "tags": ["datasets"], "security": [{"Bearer": []}], "responses": {"200": {"description": "stats"}}}
        },
        "/user/usage": {
            "get": {"summary": "Logged token usage and cost", "tags": ["economics"], "security": [{"Bearer": []}], "responses": {"200": {"description": "usage"}}}
        }
    },
    "parameters": {
        "id": {"in": "path", "name": "id", "type": "string", "required": true}
    },
    "definitions": {
        "DatasetConfig": {
            "type": "object",
            "required": ["useCase", "model", "template"],
            "properties": {
                "useCase": {"type": "string"},
                "columns": {"type": "array", "items": {"type": "object"}},
                "variables": {"type": "array", "items": {"type": "object"}},
                "template": {"type": "string"},
                "numSamples": {"type": "integer"},
                "model": {"type": "string"},
                "provider": {"type": "string", "enum": ["togetherAI", "veniceAI"]},
                "maxTokens": {"type": "integer"},
                "splits": {"type": "array", "items": {"type": "object"}},
                "useCustomFormat": {"type": "boolean"},
                "customFormat": {"type": "string"},
                "customFormatColumnName": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds the exported API description
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "SI Copilot API",
	Description:      "Synthetic dataset generation: batch generation, runs, saved datasets and usage.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
