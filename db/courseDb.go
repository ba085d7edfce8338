package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"coursechat/models"

	_ "github.com/lib/pq"
)

type CourseRepository interface {
	UpsertCourse(course *models.Course) error
	GetCourseByTitle(title string) (*models.Course, error)
	GetAllCourses() ([]*models.Course, error)
	ListCourseTitles() ([]string, error)
}

type PostgresCourseRepository struct {
	db *sql.DB
}

func NewPostgresCourseRepository(databaseURL string) (*PostgresCourseRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresCourseRepository{db: db}, nil
}

func (r *PostgresCourseRepository) UpsertCourse(course *models.Course) error {
	lessonsJSON, err := json.Marshal(course.Lessons)
	if err != nil {
		return fmt.Errorf("failed to marshal lessons: %w", err)
	}

	query := `
		INSERT INTO coursechat.courses (title, course_link, instructor, lessons)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (title) DO UPDATE
		SET course_link = $2, instructor = $3, lessons = $4, updated_at = NOW()`

	if _, err := r.db.Exec(query, course.Title, course.CourseLink, course.Instructor, lessonsJSON); err != nil {
		return fmt.Errorf("failed to upsert course: %w", err)
	}

	return nil
}

func (r *PostgresCourseRepository) GetCourseByTitle(title string) (*models.Course, error) {
	query := `
		SELECT title, course_link, instructor, lessons
		FROM coursechat.courses
		WHERE title = $1`

	course := &models.Course{}
	var lessonsJSON []byte

	row := r.db.QueryRow(query, title)
	if err := row.Scan(&course.Title, &course.CourseLink, &course.Instructor, &lessonsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("course not found: %s", title)
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}

	if err := json.Unmarshal(lessonsJSON, &course.Lessons); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lessons: %w", err)
	}

	return course, nil
}

func (r *PostgresCourseRepository) GetAllCourses() ([]*models.Course, error) {
	query := `
		SELECT title, course_link, instructor, lessons
		FROM coursechat.courses
		ORDER BY title`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer rows.Close()

	var courses []*models.Course
	for rows.Next() {
		course := &models.Course{}
		var lessonsJSON []byte

		if err := rows.Scan(&course.Title, &course.CourseLink, &course.Instructor, &lessonsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}

		if err := json.Unmarshal(lessonsJSON, &course.Lessons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lessons for %s: %w", course.Title, err)
		}

		courses = append(courses, course)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}

	return courses, nil
}

func (r *PostgresCourseRepository) ListCourseTitles() ([]string, error) {
	query := `SELECT title FROM coursechat.courses ORDER BY title`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query course titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("failed to scan course title: %w", err)
		}
		titles = append(titles, title)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate course titles: %w", err)
	}

	return titles, nil
}

func (r *PostgresCourseRepository) Close() error {
	return r.db.Close()
}
