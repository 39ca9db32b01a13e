package main

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
	caskdb "github.com/yonwoo9/go-caskdb"
	"go.uber.org/zap"
)

func main() {
	viper.SetConfigName("caskdb")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetDefault("directory", "data")
	viper.SetDefault("sync_writes", false)
	viper.SetDefault("read_cache_bytes", caskdb.DefaultReadCacheSize)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Println("failed to read config:", err)
			return
		}
		// defaults are fine without a config file
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := caskdb.Open(viper.GetString("directory"),
		caskdb.Logger(logger),
		caskdb.SyncWrites(viper.GetBool("sync_writes")),
		caskdb.ReadCacheSize(viper.GetInt64("read_cache_bytes")),
	)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if err = db.PutString("key1", "value1"); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("stored key1")

	value, err := db.GetString("key1")
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("fetched key1:", value)

	batch := map[string][]byte{
		"key2": []byte("value2"),
		"key3": []byte("value3"),
	}
	if err = db.BatchPut(batch); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("stored batch")

	if err = db.Rotate(); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("rotated active log")

	values, err := db.BatchGet([]string{"key1", "key2", "key3"})
	if err != nil {
		fmt.Println(err)
		return
	}
	for k, v := range values {
		fmt.Printf("fetched key:%s, val:%s\n", k, string(v))
	}

	stats := db.Stats()
	fmt.Printf("segments:%d next:%d active records:%d\n",
		stats.SealedSegments, stats.NextSegment, stats.ActiveRecords)
}
