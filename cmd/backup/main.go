package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// BackupConfig liest dieselben DB-Variablen wie der Hauptdienst,
// bringt aber eigene S3-Zugangsdaten mit, damit Backups in einen
// getrennten Bucket laufen können.
type BackupConfig struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	BackupBucket string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupURL    string `envconfig:"BACKUP_S3_URL" required:"true"`
	BackupKey    string `envconfig:"BACKUP_S3_KEY" required:"true"`
	BackupSecret string `envconfig:"BACKUP_S3_SECRET" required:"true"`
	BackupRegion string `envconfig:"BACKUP_S3_REGION" default:"eu-central-1"`

	// Nur Objekte unter diesem Präfix werden rotiert. So bleiben
	// CSV-Exporte im selben Bucket unangetastet.
	BackupPrefix string `envconfig:"BACKUP_S3_PREFIX" default:"backups/"`
	KeepBackups  int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

func main() {
	log.Println("Starte Backup-Prozess...")

	_ = godotenv.Load()

	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}
	if cfg.BackupPrefix != "" && !strings.HasSuffix(cfg.BackupPrefix, "/") {
		cfg.BackupPrefix += "/"
	}

	ctx := context.Background()

	dump, err := dumpDatabase(cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des DB-Dumps: %v", err)
	}
	log.Printf("Dump erstellt (%d Bytes komprimiert)", len(dump))

	client, err := newBackupS3Client(ctx, cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des S3-Clients: %v", err)
	}

	key := fmt.Sprintf("%s%s-%s.sql.gz", cfg.BackupPrefix, cfg.DBName, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	if _, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(cfg.BackupBucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(dump),
	}); err != nil {
		log.Fatalf("Fehler beim Hochladen nach S3: %v", err)
	}
	log.Printf("Backup erfolgreich nach s3://%s/%s hochgeladen", cfg.BackupBucket, key)

	if err := pruneOldBackups(ctx, client, cfg); err != nil {
		log.Fatalf("Fehler bei der Rotation alter Backups: %v", err)
	}

	log.Println("Backup-Prozess erfolgreich abgeschlossen.")
}

// dumpDatabase ruft pg_dump auf und komprimiert dessen Ausgabe direkt im
// Speicher. stderr wird für die Fehlermeldung mitgeschnitten.
func dumpDatabase(cfg BackupConfig) ([]byte, error) {
	dump := exec.Command("pg_dump",
		"-h", cfg.DBHost,
		"-p", strconv.Itoa(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // Passwort kommt über PGPASSWORD
	)
	dump.Env = append(os.Environ(), "PGPASSWORD="+cfg.DBPassword)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	dump.Stdout = zw

	var stderr bytes.Buffer
	dump.Stderr = &stderr

	if err := dump.Run(); err != nil {
		return nil, fmt.Errorf("pg_dump: %v (%s)", err, strings.TrimSpace(stderr.String()))
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newBackupS3Client(ctx context.Context, cfg BackupConfig) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               cfg.BackupURL,
			SigningRegion:     cfg.BackupRegion,
			HostnameImmutable: true,
		}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.BackupKey, cfg.BackupSecret, "")),
		config.WithRegion(cfg.BackupRegion),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// pruneOldBackups behält die KeepBackups jüngsten Dumps unter dem Präfix und
// löscht den Rest. Einzelne Löschfehler brechen die Rotation nicht ab.
func pruneOldBackups(ctx context.Context, client *s3.Client, cfg BackupConfig) error {
	listing, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.BackupBucket),
		Prefix: aws.String(cfg.BackupPrefix),
	})
	if err != nil {
		return err
	}

	objects := listing.Contents
	if len(objects) <= cfg.KeepBackups {
		log.Printf("Höchstens %d Backups vorhanden, keine Rotation nötig.", cfg.KeepBackups)
		return nil
	}

	// Älteste zuerst; alles vor den letzten KeepBackups fliegt raus.
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.Before(*objects[j].LastModified)
	})
	for _, obj := range objects[:len(objects)-cfg.KeepBackups] {
		log.Printf("Entferne altes Backup %s", aws.ToString(obj.Key))
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.BackupBucket),
			Key:    obj.Key,
		}); err != nil {
			log.Printf("Löschen von %s fehlgeschlagen: %v", aws.ToString(obj.Key), err)
		}
	}
	return nil
}
