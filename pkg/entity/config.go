package entity

import (
	"github.com/bitrix24/b24phpsdk-sub004/pkg/batch"
	"github.com/creasty/defaults"
)

// Config describes how an entity names its parameters and results.
type Config struct {
	// IDParam is the identifier parameter of update and delete.
	IDParam string `yaml:"id_param" default:"ID" validate:"required"`

	// FieldsParam is the field map parameter of add and update.
	FieldsParam string `yaml:"fields_param" default:"fields" validate:"required"`

	// ResultIDPath is the gjson path of the new ID inside an add result.
	// Empty means the result is the ID itself.
	ResultIDPath string `yaml:"result_id_path"`

	// MaxBatchSize is the number of items sent per batch request.
	MaxBatchSize int `yaml:"max_batch_size" default:"50" validate:"min=1,max=50"`
}

// DefaultConfig returns the configuration of CRM style entities.
func DefaultConfig() Config {
	cfg := Config{}
	_ = defaults.Set(&cfg)
	return cfg
}

// TaskConfig returns the configuration of tasks.task.* methods.
func TaskConfig() Config {
	return Config{
		IDParam:      "taskId",
		FieldsParam:  "fields",
		ResultIDPath: "task.id",
		MaxBatchSize: batch.MaxBatchSize,
	}
}
