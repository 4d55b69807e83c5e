package tools

import "github.com/qri-io/jsonschema"

const readFileSchemaJSON = `{
  "type": "object",
  "properties": {
    "path": { "type": "string", "description": "File path, absolute or workspace-relative" }
  },
  "required": ["path"]
}`

const writeFileSchemaJSON = `{
  "type": "object",
  "properties": {
    "path": { "type": "string", "description": "File path, absolute or workspace-relative" },
    "content": { "type": "string", "description": "Full replacement content" }
  },
  "required": ["path", "content"]
}`

const listFilesSchemaJSON = `{
  "type": "object",
  "properties": {
    "pattern": { "type": "string", "description": "Glob pattern matched against workspace-relative paths", "default": "**" },
    "maxResults": { "type": "number", "default": 200 }
  }
}`

const computeDiffSchemaJSON = `{
  "type": "object",
  "properties": {
    "path": { "type": "string", "description": "File whose current content is the diff base" },
    "newContent": { "type": "string", "description": "Proposed replacement content" }
  },
  "required": ["path", "newContent"]
}`

const emptySchemaJSON = `{
  "type": "object",
  "properties": {}
}`

const checkDocumentDirtySchemaJSON = `{
  "type": "object",
  "properties": {
    "path": { "type": "string", "description": "Path of an open document" }
  },
  "required": ["path"]
}`

var (
	readFileSchema           = jsonschema.Must(readFileSchemaJSON)
	writeFileSchema          = jsonschema.Must(writeFileSchemaJSON)
	listFilesSchema          = jsonschema.Must(listFilesSchemaJSON)
	computeDiffSchema        = jsonschema.Must(computeDiffSchemaJSON)
	checkDocumentDirtySchema = jsonschema.Must(checkDocumentDirtySchemaJSON)
)
