package etl

import "fmt"

// The warehouse is split into two schemas: staging holds the raw S3 loads,
// sparkify holds the star schema the analysts query. Statements run in
// catalog order over a single connection, one implicit commit each, so
// every statement re-establishes the schema it needs.

// DropStatements tear both schemas down. CASCADE takes the tables with
// them; IF EXISTS makes a second reset a no-op.
var DropStatements = []string{
	`DROP SCHEMA IF EXISTS staging CASCADE;`,
	`DROP SCHEMA IF EXISTS sparkify CASCADE;`,
}

var createStagingEvents = `
CREATE SCHEMA IF NOT EXISTS staging;
SET search_path TO staging;
CREATE TABLE IF NOT EXISTS staging_events (
    artist          VARCHAR(255),
    auth            VARCHAR(255),
    first_name      VARCHAR(255),
    gender          VARCHAR(1),
    item_in_session INTEGER,
    last_name       VARCHAR(255),
    length          NUMERIC(18,5),
    level           VARCHAR(10),
    location        VARCHAR(255),
    method          VARCHAR(10),
    page            VARCHAR(50),
    registration    TIMESTAMP,
    session_id      INTEGER,
    song            VARCHAR(255),
    status          INTEGER,
    ts              TIMESTAMP,
    user_agent      VARCHAR(255),
    user_id         INTEGER
);`

var createStagingSongs = `
CREATE SCHEMA IF NOT EXISTS staging;
SET search_path TO staging;
CREATE TABLE IF NOT EXISTS staging_songs (
    num_songs        INTEGER,
    artist_id        VARCHAR(255),
    artist_latitude  NUMERIC,
    artist_longitude NUMERIC,
    artist_location  VARCHAR(255),
    artist_name      VARCHAR(255),
    song_id          VARCHAR(255),
    title            VARCHAR(255),
    duration         NUMERIC,
    year             INTEGER
);`

var createUsers = `
CREATE SCHEMA IF NOT EXISTS sparkify;
SET search_path TO sparkify;
CREATE TABLE IF NOT EXISTS users (
    user_id    INTEGER PRIMARY KEY,
    first_name VARCHAR(255),
    last_name  VARCHAR(255),
    gender     VARCHAR(255),
    level      VARCHAR(255)
) DISTSTYLE ALL;`

var createSongs = `
CREATE SCHEMA IF NOT EXISTS sparkify;
SET search_path TO sparkify;
CREATE TABLE IF NOT EXISTS songs (
    song_id   VARCHAR(255) PRIMARY KEY,
    title     VARCHAR(255),
    artist_id VARCHAR(255),
    year      INTEGER,
    duration  NUMERIC
) DISTSTYLE KEY DISTKEY(artist_id);`

var createArtists = `
CREATE SCHEMA IF NOT EXISTS sparkify;
SET search_path TO sparkify;
CREATE TABLE IF NOT EXISTS artists (
    artist_id VARCHAR(255) PRIMARY KEY,
    name      VARCHAR(255),
    location  VARCHAR(255),
    latitude  NUMERIC,
    longitude NUMERIC
) DISTSTYLE ALL;`

var createTime = `
CREATE SCHEMA IF NOT EXISTS sparkify;
SET search_path TO sparkify;
CREATE TABLE IF NOT EXISTS time (
    start_time TIMESTAMP PRIMARY KEY SORTKEY,
    hour       SMALLINT,
    day        SMALLINT,
    week       SMALLINT,
    month      SMALLINT,
    year       SMALLINT,
    weekday    SMALLINT
) DISTSTYLE ALL;`

var createSongplays = `
CREATE SCHEMA IF NOT EXISTS sparkify;
SET search_path TO sparkify;
CREATE TABLE IF NOT EXISTS songplays (
    songplay_id INTEGER IDENTITY(0,1) PRIMARY KEY,
    start_time  TIMESTAMP NOT NULL REFERENCES "time" (start_time),
    user_id     INTEGER NOT NULL REFERENCES "users" (user_id),
    level       VARCHAR(255),
    song_id     VARCHAR(255) REFERENCES "songs" (song_id),
    artist_id   VARCHAR(255) REFERENCES "artists" (artist_id),
    session_id  INTEGER,
    location    VARCHAR(255),
    user_agent  VARCHAR(255)
) DISTSTYLE KEY DISTKEY(song_id);`

// CreateStatements in dependency order: staging landing tables, the four
// dimensions, and the fact last so its foreign keys have targets.
var CreateStatements = []string{
	createStagingEvents,
	createStagingSongs,
	createUsers,
	createSongs,
	createArtists,
	createTime,
	createSongplays,
}

// CopyParams feeds the COPY templates. RoleARN is the trust role the
// provisioner created; the cluster assumes it to read the buckets.
type CopyParams struct {
	RoleARN     string
	Region      string
	LogData     string
	LogJSONPath string
	SongData    string
}

// CopyStatements renders the two staging loads with the credentials filled
// in at execution time. The events load maps fields through the JSONPaths
// file and parses ts as epoch millis; rows for pages other than NextSong
// are deleted right after landing so every downstream statement sees plays
// only. The songs load lets COPY derive the mapping from the JSON itself.
func CopyStatements(p CopyParams) []string {
	events := fmt.Sprintf(`
SET search_path TO staging;
COPY staging_events FROM '%s'
CREDENTIALS 'aws_iam_role=%s'
JSON '%s'
TIMEFORMAT AS 'epochmillisecs'
COMPUPDATE OFF REGION '%s';
DELETE FROM staging_events WHERE page != 'NextSong';`,
		p.LogData, p.RoleARN, p.LogJSONPath, p.Region)

	songs := fmt.Sprintf(`
SET search_path TO staging;
COPY staging_songs FROM '%s'
CREDENTIALS 'aws_iam_role=%s'
FORMAT JSON 'auto'
COMPUPDATE OFF REGION '%s';`,
		p.SongData, p.RoleARN, p.Region)

	return []string{events, songs}
}

var insertUsers = `
INSERT INTO sparkify.users
SELECT s.user_id, s.first_name, s.last_name, s.gender, s.level
FROM staging.staging_events s
JOIN (
    SELECT user_id, MAX(ts) AS max_ts
    FROM staging.staging_events
    GROUP BY user_id
) t ON s.user_id = t.user_id AND s.ts = t.max_ts;`

var insertSongs = `
INSERT INTO sparkify.songs
SELECT DISTINCT song_id, title, artist_id, year, duration
FROM staging.staging_songs;`

var insertArtists = `
INSERT INTO sparkify.artists
SELECT DISTINCT artist_id, artist_name, artist_location, artist_latitude, artist_longitude
FROM staging.staging_songs;`

var insertTime = `
INSERT INTO sparkify.time
SELECT ts,
    DATE_PART('hour', ts),
    DATE_PART('day', ts),
    DATE_PART('week', ts),
    DATE_PART('month', ts),
    DATE_PART('year', ts),
    DATE_PART('dow', ts)
FROM staging.staging_events;`

var insertSongplays = `
INSERT INTO sparkify.songplays (start_time, user_id, level, song_id, artist_id, session_id, location, user_agent)
SELECT ts, user_id, level, s.song_id, s.artist_id, session_id, location, user_agent
FROM staging.staging_events e
LEFT JOIN staging.staging_songs s ON e.artist = s.artist_name AND e.song = s.title;`

// InsertStatements populate the star schema. The users insert keeps one row
// per user, taken from their latest event, so the level column reflects the
// current subscription. Dimensions run first, the songplays fact runs last.
var InsertStatements = []string{
	insertUsers,
	insertSongs,
	insertArtists,
	insertTime,
	insertSongplays,
}
