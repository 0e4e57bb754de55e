package db

import (
	kbuild "github.com/opst/shipfab/pkg/domain/build/db"
	kdeployment "github.com/opst/shipfab/pkg/domain/deployment/db"
	keventlog "github.com/opst/shipfab/pkg/domain/eventlog/db"
	kmanifest "github.com/opst/shipfab/pkg/domain/manifest/db"
	kschema "github.com/opst/shipfab/pkg/domain/schema/db"
)

type ShipDatabase interface {
	Deployment() kdeployment.Interface
	Build() kbuild.Interface
	Manifest() kmanifest.Interface
	EventLog() keventlog.Interface
	Schema() kschema.SchemaInterface
	Close() error
}
