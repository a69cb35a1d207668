package devops

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// TenantDBEntry describes one tenant database in the registry document.
type TenantDBEntry struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

var (
	once    sync.Once
	dbList  []TenantDBEntry
	loadErr error
)

// LoadTenantDBConfig reads the tenant database registry from SSM parameter
// store (YAML document). Loaded once per process.
func LoadTenantDBConfig(ctx context.Context) ([]TenantDBEntry, error) {
	once.Do(func() {
		paramName := os.Getenv("TENANT_DB_PARAMETER")
		if paramName == "" {
			paramName = "tenant-databases"
		}

		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			loadErr = fmt.Errorf("load aws config: %w", err)
			return
		}

		client := ssm.NewFromConfig(cfg)

		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(paramName),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			loadErr = fmt.Errorf("get parameter: %w", err)
			return
		}

		var parsed []TenantDBEntry
		if err := yaml.Unmarshal([]byte(*out.Parameter.Value), &parsed); err != nil {
			loadErr = fmt.Errorf("unmarshal yaml: %w", err)
			return
		}

		dbList = parsed
	})

	return dbList, loadErr
}
